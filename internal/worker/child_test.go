package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	record *Record
	err    error
}

func (g fakeGenerator) Generate(ctx context.Context, name string) (*Record, error) {
	return g.record, g.err
}

func TestRunChild_SuccessWritesResponse(t *testing.T) {
	gen := fakeGenerator{record: &Record{
		Bytes:              []byte("pixels"),
		ContentType:        "image/png",
		ImageType:          "png",
		CRC32:              "deadbeef",
		GenerationDuration: 1.25,
		EventCount:         2,
	}}

	in := bytes.NewBufferString(`{"action":"generate","name":"kitchen","trigger":"scheduled"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, RunChild(context.Background(), in, &out, gen))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "deadbeef", resp.CRC32)
	assert.Equal(t, 2, resp.EventCount)
}

func TestRunChild_GeneratorErrorWritesFailureResponse(t *testing.T) {
	gen := fakeGenerator{err: errors.New("render collaborator crashed")}

	in := bytes.NewBufferString(`{"action":"generate","name":"kitchen"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, RunChild(context.Background(), in, &out, gen))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "render collaborator crashed")
}

func TestRunChild_UnknownActionWritesFailureResponse(t *testing.T) {
	gen := fakeGenerator{}
	in := bytes.NewBufferString(`{"action":"ping","name":"kitchen"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, RunChild(context.Background(), in, &out, gen))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unsupported action")
}

func TestRunChild_EmptyStdinWritesFailureResponse(t *testing.T) {
	gen := fakeGenerator{}
	in := bytes.NewBufferString("")
	var out bytes.Buffer

	require.NoError(t, RunChild(context.Background(), in, &out, gen))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
}
