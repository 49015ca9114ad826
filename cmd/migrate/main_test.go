package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	t.Run("按分号分割并去掉注释", func(t *testing.T) {
		stmts := splitStatements("-- 表\nCREATE TABLE a (id INT);\n\nCREATE INDEX i ON a (id);\n")
		assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX i ON a (id)"}, stmts)
	})

	t.Run("字符串中的分号不分割", func(t *testing.T) {
		stmts := splitStatements("INSERT INTO a VALUES ('x;y');")
		assert.Equal(t, []string{"INSERT INTO a VALUES ('x;y')"}, stmts)
	})

	t.Run("末尾无分号", func(t *testing.T) {
		assert.Equal(t, []string{"SELECT 1"}, splitStatements("SELECT 1"))
	})
}

func TestMigrationFiles(t *testing.T) {
	t.Run("回滚顺序倒序", func(t *testing.T) {
		up, err := migrationFiles("migrations", "postgres", "up")
		if err != nil {
			t.Skip("migrations directory not reachable from test working directory")
		}
		down, err := migrationFiles("migrations", "postgres", "down")
		assert.NoError(t, err)
		assert.Len(t, down, len(up))
	})

	t.Run("目录不存在", func(t *testing.T) {
		_, err := migrationFiles("no-such-dir", "mysql", "up")
		assert.Error(t, err)
	})
}
