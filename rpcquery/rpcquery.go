// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpcquery is the read-only query transport described in
// SPEC_FULL.md §2/§6: GetContractInfo, GetSchedule, ComputeProjection and
// GetEvents over a gorilla/rpc JSON-RPC service, plus a gorilla/websocket
// push channel for newly committed ContractEmitted events. Nothing here
// ever calls a dispatch entry point; every method is a pure read against
// module.Module's already-exported accessors (spec.md §5: side processes
// "may not observe or mutate ContractInfoOf, Storage, or the
// DeletionQueue except through the same read-only accessors the dispatch
// surface itself uses").
package rpcquery

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	gorillarpc "github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/rent"
	"github.com/wasmchain/contracts/module"
	"github.com/wasmchain/contracts/params"
)

// backend is the subset of *module.Module the query service depends on,
// narrowed to an interface so tests can supply a fake without constructing
// a full Module (grounded on the pack's narrow-interface style, e.g.
// sync/handlers/handler.go -- DESIGN.md).
type backend interface {
	ContractInfo(addr common.Address) (contractstate.ContractInfo, bool)
	CurrentSchedule() params.Schedule
	ComputeProjection(addr common.Address) (rent.ProjectionResult, error)
	Events() []module.LifecycleEvent
}

// Service implements the four gorilla/rpc JSON-RPC methods. Method
// receivers use the package's exported Args/Reply pairs per gorilla/rpc's
// calling convention (func(r *http.Request, args *T, reply *R) error).
type Service struct {
	backend backend
}

// GetContractInfoArgs/Reply wrap contractstate.ContractInfo for the wire.
type GetContractInfoArgs struct {
	Address common.Address
}
type GetContractInfoReply struct {
	Info  contractstate.ContractInfo
	Found bool
}

// GetContractInfo implements the GetContractInfo(address) -> ContractInfo
// query.
func (s *Service) GetContractInfo(r *http.Request, args *GetContractInfoArgs, reply *GetContractInfoReply) error {
	info, ok := s.backend.ContractInfo(args.Address)
	reply.Info = info
	reply.Found = ok
	return nil
}

// GetScheduleArgs is empty; GetSchedule takes no parameters.
type GetScheduleArgs struct{}
type GetScheduleReply struct {
	Schedule params.Schedule
}

// GetSchedule implements GetSchedule() -> Schedule.
func (s *Service) GetSchedule(r *http.Request, args *GetScheduleArgs, reply *GetScheduleReply) error {
	reply.Schedule = s.backend.CurrentSchedule()
	return nil
}

// ComputeProjectionArgs/Reply wrap rent.ProjectionResult for the wire.
type ComputeProjectionArgs struct {
	Address common.Address
}
type ComputeProjectionReply struct {
	Result rent.ProjectionResult
}

// ComputeProjection implements ComputeProjection(address) ->
// RentProjectionResult.
func (s *Service) ComputeProjection(r *http.Request, args *ComputeProjectionArgs, reply *ComputeProjectionReply) error {
	result, err := s.backend.ComputeProjection(args.Address)
	if err != nil {
		return err
	}
	reply.Result = result
	return nil
}

// GetEventsArgs selects a window into the in-memory event ring buffer.
type GetEventsArgs struct {
	Since int // index into the retained ring buffer; 0 means "everything retained"
}
type GetEventsReply struct {
	Events []module.LifecycleEvent
}

// GetEvents implements GetEvents(since) -> []Event.
func (s *Service) GetEvents(r *http.Request, args *GetEventsArgs, reply *GetEventsReply) error {
	all := s.backend.Events()
	if args.Since < 0 || args.Since > len(all) {
		reply.Events = all
		return nil
	}
	reply.Events = all[args.Since:]
	return nil
}

// Server bundles the JSON-RPC handler, a rate limiter fronting it, and a
// websocket hub pushing ContractEmitted notifications to subscribers.
type Server struct {
	mux     *gorillarpc.Server
	limiter *rate.Limiter
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// New builds a Server over backend b, rate-limited to ratePerSecond
// queries/sec with a burst of burst (SPEC_FULL.md §2: "golang.org/x/time/
// rate rate-limits the query RPC transport").
func New(b backend, ratePerSecond float64, burst int) (*Server, error) {
	rpcServer := gorillarpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&Service{backend: b}, ""); err != nil {
		return nil, err
	}
	return &Server{
		mux:     rpcServer,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*websocket.Conn]struct{}),
	}, nil
}

// ServeHTTP rate-limits then delegates to the underlying gorilla/rpc mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ServeWebsocket upgrades r into a push subscriber that receives every
// event handed to Publish until it disconnects.
func (s *Server) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("rpcquery: websocket upgrade failed", "err", err)
		return
	}
	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()

	// Drain inbound frames (none expected) until the client disconnects,
	// so the connection's read deadline machinery notices a close.
	go func() {
		defer s.removeSub(conn)
		conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeSub(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.subs, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Publish pushes a ContractEmitted (or any other) LifecycleEvent to every
// connected websocket subscriber. Called only after a top-level dispatch
// has committed (SPEC_FULL.md §4.6: "events from reverted frames are
// never published").
func (s *Server) Publish(e module.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		if err := conn.WriteJSON(e); err != nil {
			log.Debug("rpcquery: dropping unresponsive websocket subscriber", "err", err)
			go s.removeSub(conn)
		}
	}
}
