//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/fgeck/dbbackup-cloud/internal/services/mailer"
	"github.com/stretchr/testify/require"
)

func emailConfig(t *testing.T) models.EmailConfig {
	t.Helper()

	server := os.Getenv("TEST_SMTP_SERVER")
	if server == "" {
		t.Skip("TEST_SMTP_SERVER not set")
	}

	port := 587
	if s := os.Getenv("TEST_SMTP_PORT"); s != "" {
		var err error
		port, err = strconv.Atoi(s)
		require.NoError(t, err)
	}

	return models.EmailConfig{
		SMTPServer: server,
		Port:       port,
		From:       os.Getenv("TEST_SMTP_FROM"),
		To:         os.Getenv("TEST_SMTP_TO"),
		Username:   os.Getenv("TEST_SMTP_USERNAME"),
		Password:   os.Getenv("TEST_SMTP_PASSWORD"),
	}
}

func TestSendFailureReport_E2E(t *testing.T) {
	cfg := emailConfig(t)
	svc := mailer.New(testLogger())
	require.NoError(t, svc.ValidateConfig(cfg))

	body := mailer.FormatReport(models.FailureReport{
		RunID:        "e2e",
		Host:         "e2e-test-host",
		Database:     "Accounting",
		Source:       "/srv/1c/accounting/acct.db",
		Bucket:       "backups-co",
		StartTime:    time.Now().Add(-time.Minute),
		Duration:     time.Minute,
		FailedStep:   models.StepVerify,
		ErrorMessage: "verify: checksum differs (e2e test, please ignore)",
	})

	require.NoError(t, svc.SendMail(context.Background(), body, cfg))
}

func TestSendFailureReport_BadCredentials_E2E(t *testing.T) {
	cfg := emailConfig(t)
	cfg.Password = "definitely-wrong"

	err := mailer.New(testLogger()).SendMail(context.Background(), "body", cfg)

	require.ErrorIs(t, err, models.ErrNotification)
}
