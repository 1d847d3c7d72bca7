package disk

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
	log "github.com/sirupsen/logrus"

	"pagestore/src/common"
)

// DiskManager reads and writes fixed-size pages of one file. Page N lives at
// byte offset N*pageSize; the file holds nothing else.
type DiskManager struct {
	fileName string
	pageSize int

	fi *os.File
	mu sync.Mutex
}

func NewDiskManager(fileName string, pageSize int, directIO bool) (*DiskManager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size %d", common.ErrInvalidConfig, pageSize)
	}
	var fi *os.File
	var err error
	if directIO {
		if pageSize%directio.BlockSize != 0 {
			return nil, fmt.Errorf("%w: page size %d is not a multiple of the direct I/O block size %d",
				common.ErrInvalidConfig, pageSize, directio.BlockSize)
		}
		fi, err = directio.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	} else {
		fi, err = os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	}
	if err != nil {
		log.WithError(err).Errorf("Cannot open file %s.", fileName)
		return nil, err
	}
	return &DiskManager{
		fileName: fileName,
		pageSize: pageSize,
		fi:       fi,
	}, nil
}

func (dm *DiskManager) Close() error {
	return dm.fi.Close()
}

func (dm *DiskManager) FileName() string { return dm.fileName }

func (dm *DiskManager) PageSize() int { return dm.pageSize }

// NumPages is the file length divided by the page size.
func (dm *DiskManager) NumPages() (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	size, err := dm.getFileSize()
	if err != nil {
		return 0, err
	}
	return int(size / int64(dm.pageSize)), nil
}

// ReadPage fails with common.ErrInvalidPageId when the page starts at or past
// the end of the file.
func (dm *DiskManager) ReadPage(pageNo int) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.readPageData(pageNo)
}

func (dm *DiskManager) WritePage(pageNo int, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writePageData(pageNo, data)
}

// AllocatePage appends a zeroed page and returns its number.
func (dm *DiskManager) AllocatePage() (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	size, err := dm.getFileSize()
	if err != nil {
		return 0, err
	}
	pageNo := int(size / int64(dm.pageSize))
	if err := dm.writePageData(pageNo, directio.AlignedBlock(dm.pageSize)); err != nil {
		log.WithError(err).Errorf("Cannot append page %d to %s.", pageNo, dm.fileName)
		return 0, err
	}
	return pageNo, nil
}

func (dm *DiskManager) getFileSize() (int64, error) {
	stat, err := dm.fi.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (dm *DiskManager) readPageData(pageNo int) ([]byte, error) {
	if pageNo < 0 {
		return nil, fmt.Errorf("%w: page number %d is negative", common.ErrInvalidPageId, pageNo)
	}
	offset := int64(pageNo) * int64(dm.pageSize)
	size, err := dm.getFileSize()
	if err != nil {
		return nil, err
	}
	if offset >= size {
		return nil, fmt.Errorf("%w: page %d is past the end of %s", common.ErrInvalidPageId, pageNo, dm.fileName)
	}
	if _, err := dm.fi.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data := directio.AlignedBlock(dm.pageSize)
	if _, err := io.ReadFull(dm.fi, data); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: page %d of %s is truncated", common.ErrInvalidPageId, pageNo, dm.fileName)
		}
		return nil, err
	}
	return data, nil
}

func (dm *DiskManager) writePageData(pageNo int, data []byte) error {
	if pageNo < 0 {
		return fmt.Errorf("%w: page number %d is negative", common.ErrInvalidPageId, pageNo)
	}
	if len(data) != dm.pageSize {
		return fmt.Errorf("page data is %d bytes, expected %d", len(data), dm.pageSize)
	}
	offset := int64(pageNo) * int64(dm.pageSize)
	if _, err := dm.fi.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := dm.fi.Write(data); err != nil {
		return err
	}
	return nil
}
