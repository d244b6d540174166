package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/Phill101/kafka-flow/internal/consumer"
	"github.com/Phill101/kafka-flow/internal/runtime"
)

// PartitionSource reports the live partition flows. Implemented by the
// consumer.
type PartitionSource interface {
	Partitions(ctx context.Context) []consumer.PartitionStatus
}

// Server is the read-only status surface: health plus per-partition commit
// state.
type Server struct {
	rt    *runtime.Runtime
	parts PartitionSource
	srv   *http.Server
	lis   net.Listener
}

// New builds a Server over the runtime and a partition source.
func New(rt *runtime.Runtime, parts PartitionSource) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, parts: parts, srv: &http.Server{Handler: mux}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/partitions", s.handlePartitions)
	return s
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Addr returns the bound address, once listening.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	parts := s.parts.Partitions(r.Context())
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Topic != parts[j].Topic {
			return parts[i].Topic < parts[j].Topic
		}
		return parts[i].Partition < parts[j].Partition
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"partitions": parts})
}
