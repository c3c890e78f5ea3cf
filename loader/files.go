package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/config"
	"github.com/bobuhiro11/goboot/efi"
	"github.com/bobuhiro11/goboot/elfload"
)

var ErrNotRegularFile = errors.New("not a regular file")

type fileLoader struct {
	bs  efi.BootServices
	mem elfload.Memory
	vol fs.FS
	log *log.Logger
}

// load reads a file from the volume into newly allocated loader pages and
// returns where it landed. The returned slice aliases guest memory.
func (f *fileLoader) load(path string) (addr.PhysAddr, []byte, error) {
	f.log.Printf("opening file: %s", path)

	file, err := f.vol.Open(config.FSPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil, fmt.Errorf("%s: %w: %w", path, efi.ErrNotFound, err)
		}

		return 0, nil, fmt.Errorf("%s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return 0, nil, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	f.log.Printf("loading file to memory")

	size := uint64(info.Size())
	pages := int(size/addr.PageSize) + 1

	at, err := f.bs.AllocatePages(efi.AllocateAnyPages, efi.EfiLoaderData, pages)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", path, err)
	}

	buf, err := f.mem.Slice(at, size)
	if err != nil {
		return 0, nil, err
	}

	if _, err := io.ReadFull(file, buf); err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", path, err)
	}

	return at, buf, nil
}
