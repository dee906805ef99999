package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidworks/expertdesk/internal/lifecycle"
	"github.com/rapidworks/expertdesk/internal/logging"
	"github.com/rapidworks/expertdesk/internal/model"
	"github.com/rapidworks/expertdesk/tests/testutil"
)

func TestOpenWiresSQLiteAndLocalFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := &model.AppConfig{
		Store:       model.StoreConfig{Driver: "sqlite", Path: filepath.Join(dir, "data", "expertdesk.db")},
		Attachments: model.AttachmentConfig{Driver: "local", Dir: filepath.Join(dir, "files")},
	}

	ctx := context.Background()
	deps, err := Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)

	id, err := deps.Service.CreateTask(ctx, testutil.Customer, lifecycle.CreateTaskInput{
		ExpertEmail: "dana@rapidworks.io",
		ExpertName:  "Dana",
		TaskName:    "Logo redesign",
	})
	require.NoError(t, err)

	task, err := deps.Store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, task.Status)

	require.NoError(t, deps.Close(ctx))
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), model.StoreConfig{Driver: "postgres"})
	assert.ErrorContains(t, err, "postgres")

	_, err = OpenStore(context.Background(), model.StoreConfig{Driver: "mongo"})
	assert.ErrorContains(t, err, "mongo_uri")
}

func TestSenders(t *testing.T) {
	assert.Empty(t, Senders(model.NotifyConfig{}))

	senders := Senders(model.NotifyConfig{
		TeamsWebhookURL: "https://example.webhook.office.com/hook",
		SMTP:            model.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "desk@rapidworks.io"},
	})
	require.Len(t, senders, 2)
	assert.Equal(t, "teams", senders[0].Name())
	assert.Equal(t, "email", senders[1].Name())
}
