package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpsertSQL(t *testing.T) {
	sql := UpsertSQL(UpsertConfig{
		Table:        "checkpoints",
		Columns:      []string{"source", "cursor", "updated_at"},
		ConflictKeys: []string{"source"},
	})
	assert.Equal(t,
		`INSERT INTO "checkpoints" ("source", "cursor", "updated_at") VALUES ($1, $2, $3) `+
			`ON CONFLICT ("source") DO UPDATE SET "cursor" = EXCLUDED."cursor", "updated_at" = EXCLUDED."updated_at"`,
		sql)
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	sql := UpsertSQL(UpsertConfig{
		Table:        "firms",
		Columns:      []string{"name", "norm_name", "jurisdiction"},
		ConflictKeys: []string{"norm_name", "jurisdiction"},
		UpdateCols:   []string{"name"},
	})
	assert.Contains(t, sql, `DO UPDATE SET "name" = EXCLUDED."name"`)
	assert.NotContains(t, sql, `"jurisdiction" = EXCLUDED`)
}

func TestUpsertSQL_SchemaQualifiedTable(t *testing.T) {
	sql := UpsertSQL(UpsertConfig{
		Table:        "harvest.attorneys",
		Columns:      []string{"bar_number"},
		ConflictKeys: []string{"bar_number"},
		UpdateCols:   []string{"bar_number"},
	})
	assert.Contains(t, sql, `INSERT INTO "harvest"."attorneys"`)
}
