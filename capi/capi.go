// Package capi implements the foreign C ABI from spec §6: the
// init/new_configuration/new_handle/new_metadata/write_field/... entry
// points simulation code written in Fortran/C calls into. Every entry
// point is wrapped in a top-level failure catcher that converts Go errors
// into status codes (design notes §9), and handles are opaque integer ids
// into a process-wide, rwmutex-protected registry — the same
// enumerated-status/opaque-id shape as the teacher's ais/s3 error
// translation layer, generalized from HTTP status codes to this module's
// own Status enum.
package capi

// #include <stdint.h>
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/google/uuid"

	"github.com/ecmwf/multio/client"
	"github.com/ecmwf/multio/config"
	"github.com/ecmwf/multio/domain"
	"github.com/ecmwf/multio/internal/mlog"
	"github.com/ecmwf/multio/internal/xerrors"
	"github.com/ecmwf/multio/message"
	"github.com/ecmwf/multio/transport"
	"github.com/ecmwf/multio/transport/thread"
)

// Status mirrors spec §6 "every call returns a status code".
type Status = C.int

const (
	Success         Status = 0
	ConfigException Status = 1
	UnknownError    Status = 2
)

// handleEntry is a simulation-facing session: a parsed Configuration plus,
// once new_handle is called, a bound client.Client. Kept in a process-wide
// registry indexed by an opaque integer id, per design notes §9.
type handleEntry struct {
	cfg     *config.Config
	client  *client.Client
	session string // uuid correlating this handle's log lines across the run
}

type metadataEntry struct {
	md message.Metadata
}

var (
	mu           sync.RWMutex
	handles      = map[int32]*handleEntry{}
	metadatas    = map[int32]*metadataEntry{}
	nextHandleID int32
	nextMDID     int32

	mpiAllowWorldDefault = map[int32]bool{}
	hub                  = thread.NewHub() // backing transport for handles created without a real network config
)

func catch(f func() error) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("capi: recovered panic: %v", r)
			status = UnknownError
		}
	}()
	if err := f(); err != nil {
		mlog.Errorf("capi: %v", err)
		if loc, ok := xerrors.LocalityOf(err); ok && (loc == xerrors.LocConfiguration || loc == xerrors.LocDomain) {
			return ConfigException
		}
		return UnknownError
	}
	return Success
}

//export multio_init
func multio_init() C.int {
	return catch(func() error { return nil })
}

//export multio_shutdown
func multio_shutdown() C.int {
	return catch(func() error { return nil })
}

//export multio_new_configuration
func multio_new_configuration(out *C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		id := nextHandleID
		nextHandleID++
		handles[id] = &handleEntry{cfg: &config.Config{}}
		*out = C.int32_t(id)
		return nil
	})
}

//export multio_new_configuration_from_file
func multio_new_configuration_from_file(out *C.int32_t, path *C.char) C.int {
	return catch(func() error {
		cfg, err := config.Load(C.GoString(path))
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		id := nextHandleID
		nextHandleID++
		handles[id] = &handleEntry{cfg: cfg}
		*out = C.int32_t(id)
		return nil
	})
}

//export multio_delete_configuration
func multio_delete_configuration(h C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		delete(handles, int32(h))
		delete(mpiAllowWorldDefault, int32(h))
		return nil
	})
}

//export multio_mpi_allow_world_default
func multio_mpi_allow_world_default(h C.int32_t, allow C.int) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		mpiAllowWorldDefault[int32(h)] = allow != 0
		return nil
	})
}

//export multio_new_handle
func multio_new_handle(out *C.int32_t, cfgHandle C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		entry, ok := handles[int32(cfgHandle)]
		mu.Unlock()
		if !ok {
			return xerrors.NewConfigurationError("capi: unknown configuration handle %d", cfgHandle)
		}

		local := message.NewPeer("client", uint64(cfgHandle))
		server := message.NewPeer("server", 0)
		var trans transport.Transport = thread.New(hub, local, []message.Peer{server})
		c := client.New(trans)
		c.Servers = []message.Peer{server}

		session := uuid.NewString()
		mu.Lock()
		defer mu.Unlock()
		id := nextHandleID
		nextHandleID++
		handles[id] = &handleEntry{cfg: entry.cfg, client: c, session: session}
		*out = C.int32_t(id)
		mlog.Debugf("capi: handle %d bound (session %s)", id, session)
		return nil
	})
}

//export multio_delete_handle
func multio_delete_handle(h C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		delete(handles, int32(h))
		return nil
	})
}

//export multio_new_metadata
func multio_new_metadata(out *C.int32_t, _ C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		id := nextMDID
		nextMDID++
		metadatas[id] = &metadataEntry{md: message.NewMetadata()}
		*out = C.int32_t(id)
		return nil
	})
}

//export multio_delete_metadata
func multio_delete_metadata(md C.int32_t) C.int {
	return catch(func() error {
		mu.Lock()
		defer mu.Unlock()
		delete(metadatas, int32(md))
		return nil
	})
}

func withMetadata(md C.int32_t, f func(m message.Metadata) error) error {
	mu.RLock()
	entry, ok := metadatas[int32(md)]
	mu.RUnlock()
	if !ok {
		return xerrors.NewConfigurationError("capi: unknown metadata handle %d", md)
	}
	return f(entry.md)
}

//export multio_metadata_set_bool
func multio_metadata_set_bool(md C.int32_t, key *C.char, value C.int) C.int {
	return catch(func() error {
		return withMetadata(md, func(m message.Metadata) error {
			m.SetBool(C.GoString(key), value != 0)
			return nil
		})
	})
}

//export multio_metadata_set_long
func multio_metadata_set_long(md C.int32_t, key *C.char, value C.longlong) C.int {
	return catch(func() error {
		return withMetadata(md, func(m message.Metadata) error {
			m.SetInt(C.GoString(key), int64(value))
			return nil
		})
	})
}

//export multio_metadata_set_double
func multio_metadata_set_double(md C.int32_t, key *C.char, value C.double) C.int {
	return catch(func() error {
		return withMetadata(md, func(m message.Metadata) error {
			m.SetFloat(C.GoString(key), float64(value))
			return nil
		})
	})
}

//export multio_metadata_set_string
func multio_metadata_set_string(md C.int32_t, key, value *C.char) C.int {
	return catch(func() error {
		return withMetadata(md, func(m message.Metadata) error {
			m.SetString(C.GoString(key), C.GoString(value))
			return nil
		})
	})
}

func withHandle(h C.int32_t, f func(*handleEntry) error) error {
	mu.RLock()
	entry, ok := handles[int32(h)]
	mu.RUnlock()
	if !ok {
		return xerrors.NewConfigurationError("capi: unknown handle %d", h)
	}
	if entry.client == nil {
		return xerrors.NewConfigurationError("capi: handle %d was not created via multio_new_handle", h)
	}
	return f(entry)
}

//export multio_open_connections
func multio_open_connections(h C.int32_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error { return e.client.OpenConnections(context.Background()) })
	})
}

//export multio_close_connections
func multio_close_connections(h C.int32_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error { return e.client.CloseConnections(context.Background()) })
	})
}

//export multio_write_step_complete
func multio_write_step_complete(h C.int32_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error {
			return e.client.WriteStepComplete(context.Background(), nil)
		})
	})
}

//export multio_write_domain
func multio_write_domain(h, mdHandle C.int32_t, data unsafe.Pointer, size C.size_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error {
			return withMetadata(mdHandle, func(md message.Metadata) error {
				name := md.GetStringDefault("domain", "default")
				payload := C.GoBytes(data, C.int(size))
				desc, err := domain.Parse(md, payload)
				if err != nil {
					return err
				}
				return e.client.WriteDomain(context.Background(), name, desc, md)
			})
		})
	})
}

//export multio_write_field
func multio_write_field(h, mdHandle C.int32_t, data unsafe.Pointer, elementCount C.size_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error {
			return withMetadata(mdHandle, func(md message.Metadata) error {
				prec, err := message.PrecisionFromString(md.GetStringDefault("precision", "double"))
				if err != nil {
					return err
				}
				payload := C.GoBytes(data, C.int(int64(elementCount)*int64(prec.SizeOf())))
				dst := message.NewPeer("server", 0)
				return e.client.WriteField(context.Background(), dst, md.Clone(), payload, int64(elementCount))
			})
		})
	})
}

//export multio_notify
func multio_notify(h, mdHandle C.int32_t) C.int {
	return catch(func() error {
		return withHandle(h, func(e *handleEntry) error {
			return withMetadata(mdHandle, func(md message.Metadata) error {
				dst := message.NewPeer("server", 0)
				return e.client.Notify(context.Background(), dst, md.Clone())
			})
		})
	})
}

//export multio_error_string
func multio_error_string(code C.int) *C.char {
	switch Status(code) {
	case Success:
		return C.CString("success")
	case ConfigException:
		return C.CString("configuration or domain error")
	default:
		return C.CString("unknown error")
	}
}
