package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateSQLShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "select 1", truncateSQL("select 1", 80))
}

func TestTruncateSQLLongStringClipped(t *testing.T) {
	sql := "select * from a_very_long_table_name_that_goes_on_and_on_and_on_and_on_forever"
	out := truncateSQL(sql, 20)
	assert.Equal(t, sql[:20]+"...", out)
	assert.Len(t, out, 23)
}
