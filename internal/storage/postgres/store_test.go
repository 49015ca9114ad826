package postgres

import (
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
)

func TestTranslate(t *testing.T) {
	t.Run("记录不存在", func(t *testing.T) {
		err := translate(gorm.ErrRecordNotFound, "mailbox")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, "mailbox not found", err.Error())
	})

	t.Run("PostgreSQL 唯一约束", func(t *testing.T) {
		err := translate(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), "plan")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MySQL 唯一约束", func(t *testing.T) {
		err := translate(&mysqldriver.MySQLError{Number: 1062}, "plan")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("GORM 翻译后的重复键", func(t *testing.T) {
		assert.ErrorIs(t, conflictAs(gorm.ErrDuplicatedKey, domain.ErrBoxNumberTaken, "mailbox"), domain.ErrBoxNumberTaken)
	})

	t.Run("其他错误原样返回", func(t *testing.T) {
		raw := errors.New("connection reset")
		assert.Equal(t, raw, translate(raw, "profile"))
		assert.Equal(t, domain.ErrorKind(""), domain.KindOf(translate(raw, "profile")))
	})

	t.Run("空错误", func(t *testing.T) {
		assert.NoError(t, translate(nil, "profile"))
		assert.NoError(t, conflictAs(nil, domain.ErrPlanTypeExists, "plan"))
	})
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	assert.Error(t, err)
}
