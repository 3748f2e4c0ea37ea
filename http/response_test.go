package http

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/freekieb7/harbor/test"
	"go.uber.org/mock/gomock"
)

var testGlobals = Globals{ServerName: "localhost", ServerPort: "7878"}

func completeRequest(t *testing.T, msg string) *Request {
	t.Helper()

	req := NewRequest(nil)
	if err := req.Parse([]byte(msg)); err != nil {
		t.Fatal(err)
	}
	if !req.Complete {
		t.Fatal("request not complete")
	}
	return req
}

// drain renders and writes until the response reports completion.
func drain(t *testing.T, resp *Response, w io.Writer) {
	t.Helper()

	for i := 0; i < 10000; i++ {
		resp.RenderNextChunk()
		complete, err := resp.WriteChunk(w)
		if err != nil {
			t.Fatalf("write failed: %v", err)
		}
		if complete {
			return
		}
	}
	t.Fatal("response never completed")
}

func TestResponseChunks(t *testing.T) {
	ctrl := gomock.NewController(t)

	app := NewMockApplication(ctrl)
	app.EXPECT().Call(gomock.Any(), gomock.Any()).DoAndReturn(func(env *Environ, start *StartResponse) (Iterable, error) {
		_, err := start.Start("200 OK", []Header{
			{Name: "Content-type", Value: "text/plain"},
			{Name: "Content-length", Value: "13"},
		}, nil)
		return NewChunks([]byte("Hello "), []byte("world!\n")), err
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	defer resp.Close()

	test.AssertTrue(t, resp.RenderNextChunk(), "more to come after the first chunk")
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-type: text/plain\r\nContent-length: 13\r\n\r\nHello ", string(resp.Chunk()))

	var out bytes.Buffer
	complete, err := resp.WriteChunk(&out)
	test.AssertNoError(t, err)
	test.AssertTrue(t, !complete, "not complete after the first chunk")

	test.AssertTrue(t, !resp.RenderNextChunk(), "nothing after the declared length")
	test.AssertEqual(t, "world!\n", string(resp.Chunk()))
	test.AssertTrue(t, resp.Complete(), "renderer complete")
	test.AssertTrue(t, resp.start.ContentComplete(), "start response complete")
	test.AssertTrue(t, !resp.Failed(), "not failed")
}

func TestResponseApplicationError(t *testing.T) {
	ctrl := gomock.NewController(t)

	app := NewMockApplication(ctrl)
	app.EXPECT().Call(gomock.Any(), gomock.Any()).DoAndReturn(func(env *Environ, start *StartResponse) (Iterable, error) {
		if _, err := start.Start("200 OK", []Header{{Name: "Content-type", Value: "text/plain"}}, nil); err != nil {
			return nil, err
		}
		return nil, errors.New("raised after start")
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	defer resp.Close()

	test.AssertEqual(t, string(HTTP500), string(resp.Chunk()))
	test.AssertTrue(t, resp.Complete(), "complete")

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", out.String())
}

func TestResponseApplicationPanic(t *testing.T) {
	app := ApplicationFunc(func(env *Environ, start *StartResponse) (Iterable, error) {
		panic("application exploded")
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	defer resp.Close()

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, string(HTTP500), out.String())
	test.AssertTrue(t, resp.Failed(), "failed")
}

func TestResponseIncompleteRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	app := NewMockApplication(ctrl) // never called

	req := NewRequest(nil)
	if err := req.Parse([]byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc")); err != nil {
		t.Fatal(err)
	}

	resp := HandleRequest(app, testGlobals, req, NoLock, nil)
	test.AssertEqual(t, string(HTTP500), string(resp.Chunk()))
	test.AssertTrue(t, resp.Complete(), "complete")
}

func TestResponseMidStreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	body := NewMockIterable(ctrl)
	gomock.InOrder(
		body.EXPECT().Next().Return([]byte("partial"), nil),
		body.EXPECT().Next().Return(nil, errors.New("generator failed")),
	)

	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("200 OK", nil, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(body)
	defer resp.Close()

	var out bytes.Buffer
	drain(t, resp, &out)

	// what was already on the wire stays, nothing else follows
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\n\r\npartial", out.String())
	test.AssertTrue(t, resp.Complete(), "complete")
	test.AssertTrue(t, !resp.RenderNextChunk(), "complete stays complete")
}

func TestResponseWriterAfterLastItem(t *testing.T) {
	ctrl := gomock.NewController(t)

	var w *ResponseWriter
	body := NewMockIterable(ctrl)
	gomock.InOrder(
		body.EXPECT().Next().Return([]byte("body;"), nil),
		body.EXPECT().Next().DoAndReturn(func() ([]byte, error) {
			if _, err := w.Write([]byte("tail")); err != nil {
				t.Fatal(err)
			}
			return nil, io.EOF
		}),
	)

	app := ApplicationFunc(func(env *Environ, start *StartResponse) (Iterable, error) {
		var err error
		w, err = start.Start("200 OK", nil, nil)
		return body, err
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	defer resp.Close()

	var out bytes.Buffer
	drain(t, resp, &out)

	test.AssertEqual(t, "HTTP/1.1 200 OK\r\n\r\nbody;tail", out.String())
	test.AssertTrue(t, !resp.Failed(), "not failed")
}

func TestResponseWriterBeforeMidStreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	start := NewStartResponse("HTTP/1.1")
	w, err := start.Start("200 OK", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	body := NewMockIterable(ctrl)
	gomock.InOrder(
		body.EXPECT().Next().Return([]byte("partial;"), nil),
		body.EXPECT().Next().DoAndReturn(func() ([]byte, error) {
			if _, err := w.Write([]byte("written")); err != nil {
				t.Fatal(err)
			}
			return nil, errors.New("generator failed")
		}),
	)

	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(body)
	defer resp.Close()

	var out bytes.Buffer
	drain(t, resp, &out)

	test.AssertEqual(t, "HTTP/1.1 200 OK\r\n\r\npartial;written", out.String())
	test.AssertTrue(t, resp.Complete(), "complete")
}

func TestResponseFirstFetchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	body := NewMockIterable(ctrl)
	body.EXPECT().Next().DoAndReturn(func() ([]byte, error) {
		panic("first item exploded")
	})

	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("200 OK", nil, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(body)

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, string(HTTP500), out.String())
}

func TestResponseEmptyBody(t *testing.T) {
	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("204 No Content", []Header{{Name: "X-Empty", Value: "yes"}}, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(NewChunks())

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, "HTTP/1.1 204 No Content\r\nX-Empty: yes\r\n\r\n", out.String())
}

func TestResponseWithoutStart(t *testing.T) {
	resp := NewResponse(NewStartResponse("HTTP/1.1"), NoLock, nil)
	resp.SetBody(NewChunks([]byte("orphan")))

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, string(HTTP500), out.String())
}

func TestResponseNilBody(t *testing.T) {
	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("200 OK", nil, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(nil)

	test.AssertEqual(t, string(HTTP500), string(resp.Chunk()))
	test.AssertTrue(t, resp.Failed(), "failed")
}

type closableBody struct {
	Iterable
	closed atomic.Int32
	err    error
}

func (body *closableBody) Close() error {
	body.closed.Add(1)
	return body.err
}

func TestResponseCloseOnce(t *testing.T) {
	body := &closableBody{Iterable: NewChunks([]byte("x")), err: errors.New("close failed")}

	app := ApplicationFunc(func(env *Environ, start *StartResponse) (Iterable, error) {
		_, err := start.Start("200 OK", nil, nil)
		return body, err
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	drain(t, resp, io.Discard)

	resp.Close()
	resp.Close()
	test.AssertEqual(t, int32(1), body.closed.Load())
}

func TestResponseCloseAfterApplicationError(t *testing.T) {
	body := &closableBody{Iterable: NewChunks()}

	app := ApplicationFunc(func(env *Environ, start *StartResponse) (Iterable, error) {
		return body, errors.New("failed with a body in hand")
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), NoLock, nil)
	resp.Close()
	test.AssertEqual(t, int32(1), body.closed.Load())
}

type countingLock struct {
	held     atomic.Int32
	acquired atomic.Int32
}

func (lock *countingLock) Acquire() *Guard {
	lock.held.Add(1)
	lock.acquired.Add(1)
	return &Guard{release: func() { lock.held.Add(-1) }}
}

func TestResponseHoldsLockForApplicationCode(t *testing.T) {
	lock := &countingLock{}
	body := &closableBody{}
	body.Iterable = IterableFunc(func() ([]byte, error) {
		if lock.held.Load() != 1 {
			t.Error("Next called without the execution lock")
		}
		return nil, io.EOF
	})

	app := ApplicationFunc(func(env *Environ, start *StartResponse) (Iterable, error) {
		if lock.held.Load() != 1 {
			t.Error("Call made without the execution lock")
		}
		_, err := start.Start("200 OK", nil, nil)
		return body, err
	})

	resp := HandleRequest(app, testGlobals, completeRequest(t, "GET / HTTP/1.1\r\n\r\n"), lock, nil)
	drain(t, resp, io.Discard)
	resp.Close()

	test.AssertEqual(t, int32(0), lock.held.Load())
	test.AssertEqual(t, int32(3), lock.acquired.Load())
}

func TestResponseTruncatesToContentLength(t *testing.T) {
	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("200 OK", []Header{{Name: "Content-Length", Value: "5"}}, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(NewChunks([]byte("hello world"), []byte("never fetched")))

	var out bytes.Buffer
	drain(t, resp, &out)
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello", out.String())
}

func tempFile(t *testing.T, content string) *os.File {
	t.Helper()

	name := filepath.Join(t.TempDir(), "body.txt")
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	return file
}

// fileSink accepts file transfers in small pieces, like a socket with a small buffer.
type fileSink struct {
	bytes.Buffer
	calls int
	step  int64
}

func (sink *fileSink) SendFile(file *os.File, offset int64, count int64) (int64, error) {
	sink.calls++
	if count > sink.step {
		count = sink.step
	}
	n, err := io.Copy(&sink.Buffer, io.NewSectionReader(file, offset, count))
	return n, err
}

func TestResponseFileTransfer(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)

	for _, tt := range []struct {
		name string
		sink io.Writer
	}{
		{"sendfile", &fileSink{step: 4096}},
		{"copy", &bytes.Buffer{}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			file := tempFile(t, content)

			fw, err := NewFileWrapper(file, 0)
			if err != nil {
				t.Fatal(err)
			}

			start := NewStartResponse("HTTP/1.1")
			if _, err := start.Start("200 OK", []Header{{Name: "Content-Length", Value: "10000"}}, nil); err != nil {
				t.Fatal(err)
			}
			resp := NewResponse(start, NoLock, nil)
			resp.SetBody(fw)

			drain(t, resp, tt.sink)
			resp.Close()

			out := tt.sink.(interface{ String() string }).String()
			test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-Length: 10000\r\n\r\n"+content, out)
			test.AssertEqual(t, int64(0), fw.Remaining())

			// the wrapper closed the file
			if _, err := file.Stat(); !errors.Is(err, os.ErrClosed) {
				t.Errorf("Expected closed file, got %v", err)
			}
		})
	}
}

func TestResponseFileTransferLimitedByContentLength(t *testing.T) {
	file := tempFile(t, "0123456789")

	fw, err := NewFileWrapper(file, 0)
	if err != nil {
		t.Fatal(err)
	}

	start := NewStartResponse("HTTP/1.1")
	if _, err := start.Start("200 OK", []Header{{Name: "Content-Length", Value: "4"}}, nil); err != nil {
		t.Fatal(err)
	}
	resp := NewResponse(start, NoLock, nil)
	resp.SetBody(fw)
	defer resp.Close()

	sink := &fileSink{step: 1 << 20}
	drain(t, resp, sink)
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\n0123", sink.String())
}

func TestFileWrapperIterable(t *testing.T) {
	file := tempFile(t, "abcdefghij")
	if _, err := file.Seek(2, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	fw, err := NewFileWrapper(file, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()
	test.AssertEqual(t, int64(8), fw.Remaining())

	var blocks []string
	for {
		block, err := fw.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		blocks = append(blocks, string(block))
	}
	test.AssertEqual(t, "cde,fgh,ij", strings.Join(blocks, ","))
}
