package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkdindustries/chatbridge/internal/core"
)

func TestDecode_RoundTrip(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2}
	d, err := Decode(Encode("image/png", payload))
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MIMEType)
	assert.Equal(t, payload, d.Data)
}

func TestDecode_SplitsOnFirstDelimiter(t *testing.T) {
	d, err := Decode("data:text/plain;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(d.Data))
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{
		"image/png;base64,aGk=",
		"data:image/png,aGk=",
		"data:;base64,aGk=",
		"data:image/png;base64,!!notbase64!!",
	} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
}

func TestValidateImageType(t *testing.T) {
	for _, ok := range []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/png; charset=binary"} {
		assert.NoError(t, ValidateImageType(ok), ok)
	}
	for _, bad := range []string{"image/svg+xml", "application/pdf", "", "text/html"} {
		assert.ErrorIs(t, ValidateImageType(bad), ErrInvalidMediaType, bad)
	}
}

func TestDataURL_Extension(t *testing.T) {
	assert.Equal(t, "png", (&DataURL{MIMEType: "image/png"}).Extension())
	assert.Equal(t, "svg", (&DataURL{MIMEType: "image/svg+xml"}).Extension())
	assert.Equal(t, "bin", (&DataURL{MIMEType: "garbage"}).Extension())
}

func TestFetcher_DefaultsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("raw"))
	}))
	defer srv.Close()

	f := NewFetcher(WithLogger(core.Nop()))
	d, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, DefaultMIMEType, d.MIMEType)
	assert.Equal(t, "raw", string(d.Data))
}

func TestFetcher_CachesByURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a"))
	}))
	defer srv.Close()

	f := NewFetcher(WithLogger(core.Nop()))
	for range 3 {
		d, err := f.Fetch(context.Background(), srv.URL+"/a.gif")
		require.NoError(t, err)
		assert.Equal(t, "image/gif", d.MIMEType)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_FetchAllDropsFailuresAndKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := NewFetcher(WithLogger(core.Nop()))
	got := f.FetchAll(context.Background(), []string{
		srv.URL + "/one",
		srv.URL + "/missing",
		Encode("image/webp", []byte("inline")),
		srv.URL + "/two",
	})
	require.Len(t, got, 3)
	assert.Equal(t, "/one", string(got[0].Data))
	assert.Equal(t, "inline", string(got[1].Data))
	assert.Equal(t, "/two", string(got[2].Data))
}

func TestFetcher_FetchAllRunsEveryFetchAtOnce(t *testing.T) {
	const n = 8
	var arrived atomic.Int32
	all := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if arrived.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			http.Error(w, "not all fetches in flight", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d", srv.URL, i)
	}
	got := NewFetcher(WithLogger(core.Nop())).FetchAll(context.Background(), urls)
	require.Len(t, got, n)
	assert.Equal(t, "/7", string(got[7].Data))
}

func TestMaterialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	f := NewFetcher(WithLogger(core.Nop()))
	ctx := context.Background()

	file, err := f.Materialize(ctx, Encode("image/png", []byte("png")), "attachment_0")
	require.NoError(t, err)
	assert.Equal(t, "attachment_0.png", file.Name)

	file, err = f.Materialize(ctx, srv.URL, "attachment_1")
	require.NoError(t, err)
	assert.Equal(t, "attachment_1.jpeg", file.Name)
	assert.Equal(t, "jpeg", string(file.Data))

	file, err = f.Materialize(ctx, "just some text", "attachment_2")
	require.NoError(t, err)
	assert.Equal(t, "attachment_2.txt", file.Name)

	_, err = f.Materialize(ctx, "data:image/png,nope", "broken")
	assert.ErrorIs(t, err, ErrInvalidDataURL)
}
