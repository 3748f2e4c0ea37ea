package http

import (
	"errors"
	"io"
	"os"
)

const DefaultBlockSize = 8192

// FileWrapper marks a body as a file the server may send with sendfile(2). It also
// works as a plain Iterable reading blockSize bytes at a time.
type FileWrapper struct {
	file      *os.File
	blockSize int
	offset    int64
	remaining int64
	closed    bool
}

// fileSender is implemented by connections able to move file bytes without copying
// them through user space.
type fileSender interface {
	SendFile(file *os.File, offset int64, count int64) (int64, error)
}

// NewFileWrapper covers the file from its current position to its end.
func NewFileWrapper(file *os.File, blockSize int) (*FileWrapper, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	remaining := info.Size() - offset
	if remaining < 0 {
		remaining = 0
	}

	return &FileWrapper{
		file:      file,
		blockSize: blockSize,
		offset:    offset,
		remaining: remaining,
	}, nil
}

func (fw *FileWrapper) sendable() bool {
	return fw != nil && fw.file != nil && !fw.closed
}

// Remaining is the number of bytes not yet sent.
func (fw *FileWrapper) Remaining() int64 {
	return fw.remaining
}

// limit caps the transfer to the content length declared by the application.
func (fw *FileWrapper) limit(n int64) {
	if n < fw.remaining {
		fw.remaining = n
	}
}

func (fw *FileWrapper) Next() ([]byte, error) {
	if fw.remaining == 0 {
		return nil, io.EOF
	}

	size := int64(fw.blockSize)
	if fw.remaining < size {
		size = fw.remaining
	}
	buf := make([]byte, size)
	n, err := fw.file.ReadAt(buf, fw.offset)
	fw.offset += int64(n)
	fw.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		fw.remaining = 0
		if n == 0 {
			return nil, io.EOF
		}
	} else if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// sendTo moves the remaining bytes to w. It reports true once nothing is left.
func (fw *FileWrapper) sendTo(w io.Writer) (bool, error) {
	if fw.remaining == 0 {
		return true, nil
	}

	if sender, ok := w.(fileSender); ok {
		n, err := sender.SendFile(fw.file, fw.offset, fw.remaining)
		fw.offset += n
		fw.remaining -= n
		if err != nil {
			if wouldBlock(err) || interrupted(err) {
				return false, nil
			}
			return false, err
		}
		if n == 0 && fw.remaining > 0 {
			// the file shrank underneath us
			fw.remaining = 0
			return true, io.ErrUnexpectedEOF
		}
		return fw.remaining == 0, nil
	}

	n, err := io.Copy(w, io.NewSectionReader(fw.file, fw.offset, fw.remaining))
	fw.offset += n
	fw.remaining -= n
	if err != nil {
		return false, err
	}
	if fw.remaining > 0 {
		fw.remaining = 0
		return true, io.ErrUnexpectedEOF
	}
	return true, nil
}

func (fw *FileWrapper) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	return fw.file.Close()
}
