package exception

import "github.com/yanun0323/errors"

var (
	ErrArchiveNilStore = errors.New("archive: nil store")
	ErrUnsupportedDB   = errors.New("conn: unsupported database driver")
)
