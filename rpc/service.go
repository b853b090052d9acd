package rpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	crabedb "github.com/gabrielmougard/crabedb"
	"github.com/gabrielmougard/crabedb/internal/logging"
)

// Service binds KVServer to an Engine. Errors are logged with their full
// structure (see crabedb.Error) and flattened to a single Internal status
// on the wire, matching original_source's error.rs -> tonic::Status
// collapse: operators read the real cause from the log, callers just get
// "something went wrong".
type Service struct {
	UnimplementedKVServer
	engine *crabedb.Engine
	logger logging.Logger
}

// NewService returns a KVServer backed by engine.
func NewService(engine *crabedb.Engine, logger logging.Logger) *Service {
	return &Service{engine: engine, logger: logging.OrDefault(logger)}
}

func (s *Service) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	value, ok, err := s.engine.Get([]byte(req.Key))
	if err != nil {
		return nil, s.internal("get", err)
	}
	return &GetResponse{Exist: ok, Value: string(value)}, nil
}

func (s *Service) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	if err := s.engine.Set([]byte(req.Key), []byte(req.Value)); err != nil {
		return nil, s.internal("set", err)
	}
	return &SetResponse{Success: true}, nil
}

func (s *Service) Remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error) {
	if err := s.engine.Remove([]byte(req.Key)); err != nil {
		return nil, s.internal("remove", err)
	}
	return &RemoveResponse{Success: true}, nil
}

func (s *Service) internal(op string, err error) error {
	s.logger.Errorf("%s%s failed: %v", logging.NSEngine, op, err)
	return status.New(codes.Internal, "crabedb: internal error").Err()
}
