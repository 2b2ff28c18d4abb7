package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/audit/repository"
	"github.com/smallbiznis/cashstation/internal/config"
	obscontext "github.com/smallbiznis/cashstation/internal/observability/context"
	"github.com/smallbiznis/cashstation/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Cfg:   config.Config{TerminalID: "gs-01"},
	}), db
}

func TestRecordMasksSecretsAndAddsContext(t *testing.T) {
	svc, db := newTestService(t)

	ctx := obscontext.WithActor(context.Background(), "staff", "S-100")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	err := svc.Record(ctx, auditdomain.ActionSessionStarted, "cash_session", "1", map[string]any{
		"mode":      "cash_in",
		"staff_pin": "123456",
	})
	require.NoError(t, err)

	var stored auditdomain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "gs-01", stored.TerminalID)
	assert.Equal(t, "staff", stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "S-100", *stored.ActorID)
	assert.Equal(t, "cash_in", stored.Metadata["mode"])
	assert.Equal(t, "****3456", stored.Metadata["staff_pin"])
	assert.Equal(t, "req-1", stored.Metadata["request_id"])
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Record(context.Background(), " ", "cash_session", "1", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, auditdomain.ActionPosDispatched, "transaction", "DEP-1", nil))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		Action:     auditdomain.ActionPosDispatched,
	})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
		Action:     auditdomain.ActionPosDispatched,
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
}

func TestListRejectsBadToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
