package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carewatch/internal/notifications"
	"carewatch/internal/types"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendText(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.Error(1)
}

func alert() types.AlertNotification {
	return types.NewAlertNotification([]types.MonitoringResult{{
		PatientID:   "p-1",
		DisplayName: "Ana",
		RiskLevel:   types.RiskCritical,
		Reasons:     []types.Reason{{Rule: "missed_sessions", Level: types.RiskCritical, Message: "4 consecutive missed sessions"}},
	}}, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
}

func TestNewChannel(t *testing.T) {
	_, err := NewChannel(nil, []string{"+15550001111"}, nil)
	assert.Error(t, err)

	_, err = NewChannel(&mockSender{}, []string{"", ""}, nil)
	assert.Error(t, err)

	ch, err := NewChannel(&mockSender{}, []string{"+15550001111", ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ChannelWhatsApp, ch.Name())
	assert.Equal(t, []string{"+15550001111"}, ch.recipients)
}

func TestChannel_SendAllRecipients(t *testing.T) {
	n := alert()
	body := notifications.PlainText(n)
	sender := &mockSender{}
	sender.On("SendText", mock.Anything, "+15550001111", body).Return("wamid.1", nil).Once()
	sender.On("SendText", mock.Anything, "+15550002222", body).Return("wamid.2", nil).Once()

	ch, err := NewChannel(sender, []string{"+15550001111", "+15550002222"}, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), n))
	sender.AssertExpectations(t)
}

func TestChannel_PartialFailureStillAttemptsEveryone(t *testing.T) {
	sender := &mockSender{}
	sender.On("SendText", mock.Anything, "+15550001111", mock.Anything).Return("", errors.New("rate limited")).Once()
	sender.On("SendText", mock.Anything, "+15550002222", mock.Anything).Return("wamid.2", nil).Once()

	ch, _ := NewChannel(sender, []string{"+15550001111", "+15550002222"}, nil)
	err := ch.Send(context.Background(), alert())

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamNotificationFailed))
	assert.ErrorContains(t, err, "1 of 2 recipients")
	assert.NotContains(t, err.Error(), "0001111", "numbers are masked")
	sender.AssertExpectations(t)
}

func TestChannel_CancelledContext(t *testing.T) {
	sender := &mockSender{}
	ch, _ := NewChannel(sender, []string{"+15550001111"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ch.Send(ctx, alert())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything)
}

func TestMaskNumber(t *testing.T) {
	assert.Equal(t, "****4567", maskNumber("+15551234567"))
	assert.Equal(t, "****", maskNumber("123"))
}
