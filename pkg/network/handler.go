package network

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/busybox42/memstate/internal/store"
	"github.com/busybox42/memstate/pkg/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Handler serves the memory API over HTTP.
type Handler struct {
	store        MemoryStore
	maxBodyBytes int64
	mux          *http.ServeMux
}

// NewHandler routes the data-plane operations under prefix and the status
// check at the root, and wraps them with request logging.
func NewHandler(st MemoryStore, prefix string, maxBodyBytes int64, logger logrus.FieldLogger) http.Handler {
	h := &Handler{
		store:        st,
		maxBodyBytes: maxBodyBytes,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST "+prefix+protocol.InitialisePath, h.handleInitialise)
	h.mux.HandleFunc("POST "+prefix+protocol.WriteBytePath, h.handleWriteByte)
	h.mux.HandleFunc("GET "+prefix+protocol.ReadBytePath, h.handleReadByte)
	h.mux.HandleFunc("GET "+prefix+protocol.ReadRangePath, h.handleReadRange)
	h.mux.HandleFunc("GET "+protocol.StatusPath, h.handleStatus)

	return withRequestLogging(h.mux, logger)
}

func (h *Handler) handleInitialise(w http.ResponseWriter, r *http.Request) {
	if err := protocol.CheckContentType(r.Header.Get("Content-Type")); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(w, r, errors.Wrap(err, "read body"))
		return
	}

	id, data, err := protocol.DecodeProgramState(bytes.NewReader(body))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.store.Initialize(id, data)
	entryFromContext(r.Context()).WithFields(logrus.Fields{
		"id":   id,
		"size": len(data),
	}).Info("Program state initialised")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleWriteByte(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := protocol.ParseID(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	address, err := protocol.ParseAddress(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	value, err := protocol.ParseValue(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.WriteByteAt(id, address, value); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleReadByte(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := protocol.ParseID(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	address, err := protocol.ParseAddress(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	value, err := h.store.ReadByteAt(id, address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, strconv.Itoa(int(value)))
}

func (h *Handler) handleReadRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := protocol.ParseID(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	address, err := protocol.ParseAddress(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	length, err := protocol.ParseLength(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := h.store.ReadRange(id, address, length)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, protocol.EncodeRange(data))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeText(w, protocol.HealthyBody)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	log := entryFromContext(r.Context()).WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}
	http.Error(w, err.Error(), code)
}

// StatusCode maps a memory or decoding failure to its HTTP status. Each
// sentinel gets its own code so clients can recover it.
func StatusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrUnknownIdentifier):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAddressOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, store.ErrInvalidRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrDecodingFailure):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
