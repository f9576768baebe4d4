//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/india-geodata/harvest-cli/internal/harvest"
)

type listedSource struct {
	name     string
	title    string
	pageSize int
}

func (s *listedSource) Name() string  { return s.name }
func (s *listedSource) Title() string { return s.title }
func (s *listedSource) PageSize() int { return s.pageSize }

func (s *listedSource) Keys(context.Context) ([]harvest.WorkKey, error) { return nil, nil }

func (s *listedSource) FetchPage(context.Context, harvest.WorkKey, int) (*harvest.Page, error) {
	return nil, nil
}

func (s *listedSource) Normalize(json.RawMessage, harvest.WorkKey) (*geojson.Feature, error) {
	return nil, nil
}

func TestFormatSources(t *testing.T) {
	var buf bytes.Buffer
	err := formatSources(&buf, []harvest.Source{
		&listedSource{name: "rbi_branches", title: "RBI bank branch locator", pageSize: 1000},
		&listedSource{name: "mp_police", title: "MP Police station map"},
	})
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "rbi_branches")
	assert.Contains(t, out, "1000 per page")
	assert.Contains(t, out, "whole key")
}
