package twiliowhatsapp

import (
	"context"
	"testing"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+1555")); err != nil {
		t.Errorf("expected client with full credentials, got %v", err)
	}
}

func TestMockClientRecordsSends(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+391234", "ciao"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.SentMessages) != 1 || m.SentMessages[0].To != "+391234" {
		t.Errorf("send not recorded: %+v", m.SentMessages)
	}
}
