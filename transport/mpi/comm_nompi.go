//go:build !mpi

package mpi

import "fmt"

// loopbackComm is the Comm used when this binary was not built with the
// "mpi" tag. It only supports a single rank talking to itself, which is
// enough for unit tests and for the degenerate single-process deployment;
// any multi-rank configuration must build with -tags mpi against a real MPI
// installation (see comm_mpi.go).
type loopbackComm struct {
	rank int
	size int
	ch   chan frame
}

type frame struct {
	src  int
	data []byte
}

// NewLoopbackComm returns a one-rank Comm for tests and single-process runs.
func NewLoopbackComm() Comm {
	return &loopbackComm{rank: 0, size: 1, ch: make(chan frame, 64)}
}

func (c *loopbackComm) Rank() int { return c.rank }
func (c *loopbackComm) Size() int { return c.size }

func (c *loopbackComm) Send(dst int, data []byte) error {
	if dst != c.rank {
		return fmt.Errorf("mpi: loopback comm has only rank %d, cannot send to %d (build with -tags mpi for multi-rank)", c.rank, dst)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.ch <- frame{src: c.rank, data: cp}
	return nil
}

func (c *loopbackComm) Recv() (int, []byte, error) {
	f, ok := <-c.ch
	if !ok {
		return 0, nil, fmt.Errorf("mpi: loopback comm closed")
	}
	return f.src, f.data, nil
}

func (c *loopbackComm) Close() error {
	close(c.ch)
	return nil
}
