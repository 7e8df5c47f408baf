package httpclient_test

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"

	"github.com/npbooking/bookingengine/internal/httpclient"
)

func fakeResponse(encoding string, body []byte) *http.Response {
	return &http.Response{
		Header: http.Header{"Content-Encoding": []string{encoding}},
		Body:   io.NopCloser(bytes.NewReader(body)),
	}
}

func TestDecodeBody_Identity(t *testing.T) {
	resp := fakeResponse("", []byte(`{"status":true}`))
	got, err := httpclient.DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if string(got) != `{"status":true}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeBody_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"status":true}`))
	gz.Close()

	resp := fakeResponse("gzip", buf.Bytes())
	got, err := httpclient.DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if string(got) != `{"status":true}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeBody_Deflate(t *testing.T) {
	var buf bytes.Buffer
	fl, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fl.Write([]byte(`{"status":true}`))
	fl.Close()

	resp := fakeResponse("deflate", buf.Bytes())
	got, err := httpclient.DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if string(got) != `{"status":true}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeBody_Brotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write([]byte(`{"status":true}`))
	bw.Close()

	resp := fakeResponse("br", buf.Bytes())
	got, err := httpclient.DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if string(got) != `{"status":true}` {
		t.Errorf("got %q", got)
	}
}

func TestDecodeBody_CaseInsensitiveEncoding(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("hello"))
	gz.Close()

	resp := fakeResponse("GZIP", buf.Bytes())
	got, err := httpclient.DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}
