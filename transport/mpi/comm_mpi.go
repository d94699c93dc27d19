//go:build mpi

package mpi

// #cgo LDFLAGS: -lmpi
// #include <mpi.h>
// #include <stdlib.h>
import "C"

import (
	"fmt"
	"unsafe"
)

const tagDataMsg = 7 // arbitrary, fixed MPI tag for all multio traffic on this communicator

// mpiComm wraps a duplicated MPI_Comm (duplicated at NewWorldComm so multio's
// traffic never collides with tags the host application uses on
// MPI_COMM_WORLD), matching MpiCommSetup.cc's "always operate on a private
// sub-communicator" discipline.
type mpiComm struct {
	comm C.MPI_Comm
	rank int
	size int
}

// NewWorldComm duplicates MPI_COMM_WORLD into a private communicator for
// multio's exclusive use. The caller must have already called MPI_Init (or
// be running under an MPI launcher that does it for them).
func NewWorldComm() (*mpiComm, error) {
	var dup C.MPI_Comm
	if rc := C.MPI_Comm_dup(C.MPI_COMM_WORLD, &dup); rc != C.MPI_SUCCESS {
		return nil, fmt.Errorf("mpi: MPI_Comm_dup failed (rc=%d)", rc)
	}
	var rank, size C.int
	C.MPI_Comm_rank(dup, &rank)
	C.MPI_Comm_size(dup, &size)
	return &mpiComm{comm: dup, rank: int(rank), size: int(size)}, nil
}

func (c *mpiComm) Rank() int { return c.rank }
func (c *mpiComm) Size() int { return c.size }

func (c *mpiComm) Send(dst int, data []byte) error {
	if len(data) == 0 {
		data = []byte{0}
	}
	ptr := unsafe.Pointer(&data[0])
	rc := C.MPI_Send(ptr, C.int(len(data)), C.MPI_BYTE, C.int(dst), C.int(tagDataMsg), c.comm)
	if rc != C.MPI_SUCCESS {
		return fmt.Errorf("mpi: MPI_Send to rank %d failed (rc=%d)", dst, rc)
	}
	return nil
}

func (c *mpiComm) Recv() (int, []byte, error) {
	var status C.MPI_Status
	rc := C.MPI_Probe(C.MPI_ANY_SOURCE, C.int(tagDataMsg), c.comm, &status)
	if rc != C.MPI_SUCCESS {
		return 0, nil, fmt.Errorf("mpi: MPI_Probe failed (rc=%d)", rc)
	}
	var count C.int
	C.MPI_Get_count(&status, C.MPI_BYTE, &count)
	buf := make([]byte, int(count))
	var ptr unsafe.Pointer
	if count > 0 {
		ptr = unsafe.Pointer(&buf[0])
	} else {
		var zero byte
		ptr = unsafe.Pointer(&zero)
	}
	rc = C.MPI_Recv(ptr, count, C.MPI_BYTE, status.MPI_SOURCE, C.int(tagDataMsg), c.comm, &status)
	if rc != C.MPI_SUCCESS {
		return 0, nil, fmt.Errorf("mpi: MPI_Recv failed (rc=%d)", rc)
	}
	return int(status.MPI_SOURCE), buf, nil
}

func (c *mpiComm) Close() error {
	rc := C.MPI_Comm_free(&c.comm)
	if rc != C.MPI_SUCCESS {
		return fmt.Errorf("mpi: MPI_Comm_free failed (rc=%d)", rc)
	}
	return nil
}
