package replication

import (
	"testing"

	"github.com/dosco/livequery/internal/rowvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysHasTable(string) bool { return true }

func TestApplyChangeBeginClearsBuffer(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	buf := TableChanges{"stale": nil}
	inTx := false

	s.applyChange(Change{Kind: KindBegin}, alwaysHasTable, &buf, &inTx)
	assert.True(t, inTx)
	assert.Empty(t, buf)
}

func TestApplyChangeInsertAppendsRowForTrackedTable(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	buf := make(TableChanges)
	inTx := true
	row := rowvalue.NewRow([]string{"id"}, []rowvalue.Value{rowvalue.Int(1)})

	s.applyChange(Change{Kind: KindInsert, Table: "users", Row: row}, alwaysHasTable, &buf, &inTx)
	require.Len(t, buf["users"], 1)
}

func TestApplyChangeInsertIgnoredForUntrackedTable(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	buf := make(TableChanges)
	inTx := true

	s.applyChange(Change{Kind: KindInsert, Table: "ignored"}, func(string) bool { return false }, &buf, &inTx)
	assert.NotContains(t, buf, "ignored")
}

func TestApplyChangeDeleteTouchesTableWithNoRows(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	buf := make(TableChanges)
	inTx := true

	s.applyChange(Change{Kind: KindDelete, Table: "users"}, alwaysHasTable, &buf, &inTx)
	rows, touched := buf["users"]
	assert.True(t, touched)
	assert.Empty(t, rows)
}

func TestApplyChangeDeleteDoesNotOverwriteExistingRows(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	row := rowvalue.NewRow([]string{"id"}, []rowvalue.Value{rowvalue.Int(1)})
	buf := TableChanges{"users": []rowvalue.Row{row}}
	inTx := true

	s.applyChange(Change{Kind: KindDelete, Table: "users"}, alwaysHasTable, &buf, &inTx)
	assert.Len(t, buf["users"], 1)
}

func TestApplyChangeTruncateResolvesRelationsThroughDecoder(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	relID := withUsersRelation(s.decoder)
	buf := make(TableChanges)
	inTx := true

	s.applyChange(Change{Kind: KindTruncate, Rels: []uint32{relID}}, alwaysHasTable, &buf, &inTx)
	_, touched := buf["users"]
	assert.True(t, touched)
}

func TestApplyChangeCommitClearsInTxFlag(t *testing.T) {
	s := NewStreamer("", "slot", "pub", nil)
	buf := make(TableChanges)
	inTx := true

	s.applyChange(Change{Kind: KindCommit}, alwaysHasTable, &buf, &inTx)
	assert.False(t, inTx)
}

func TestReplicationConnStringAppendsQueryParam(t *testing.T) {
	assert.Equal(t, "postgres://x?replication=database", replicationConnString("postgres://x"))
	assert.Equal(t, "postgres://x?sslmode=disable&replication=database", replicationConnString("postgres://x?sslmode=disable"))
}
