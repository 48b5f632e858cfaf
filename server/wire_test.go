package server

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFrameRoundTripTypeCheckRequest(t *testing.T) {
	req := TypeCheckRequest{
		UpdateEnvironmentWith: []File{{Root: "/proj", Relative: "a.py"}},
		Check:                 []File{{Root: "/proj", Relative: "a.py"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	got := decoded.(TypeCheckRequest)
	assert.Equal(t, req.Check, got.Check)
	assert.Equal(t, req.UpdateEnvironmentWith, got.UpdateEnvironmentWith)
}

func TestWireFrameRoundTripTypeQueryRequest(t *testing.T) {
	req := TypeQueryRequest{Query: JoinQuery{A: "Dog", B: "Cat"}}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	got := decoded.(TypeQueryRequest)
	assert.Equal(t, req.Query, got.Query)
}

func TestWireFrameRoundTripTypeAtLocationQuery(t *testing.T) {
	req := TypeQueryRequest{Query: TypeAtLocationQuery{Path: "a.py", Start: Position{Line: 3, Column: 1}}}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	got := decoded.(TypeQueryRequest)
	assert.Equal(t, req.Query, got.Query)
}

func TestWireFrameMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, StopRequest{}))
	require.NoError(t, WriteFrame(&buf, FlushTypeErrorsRequest{}))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.IsType(t, StopRequest{}, first)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.IsType(t, FlushTypeErrorsRequest{}, second)
}
