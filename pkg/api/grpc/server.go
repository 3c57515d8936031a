// Package grpcapi implements the mexpr.v1.Evaluator gRPC service. Messages
// are google.protobuf.Struct values carrying the same fields as the REST
// API, so any gRPC client can call it without generated stubs.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lemonberrylabs/mexpr/pkg/expr"
	"github.com/lemonberrylabs/mexpr/pkg/runtime"
	"github.com/lemonberrylabs/mexpr/pkg/sqlselect"
	"github.com/lemonberrylabs/mexpr/pkg/store"
	"github.com/lemonberrylabs/mexpr/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mexpr.v1.Evaluator"

// EvaluatorServer is the server API for the mexpr.v1.Evaluator service.
type EvaluatorServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Postfix(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(EvaluatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EvaluatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(EvaluatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the mexpr.v1.Evaluator service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: unaryHandler(EvaluatorServer.Evaluate, "Evaluate")},
		{MethodName: "Postfix", Handler: unaryHandler(EvaluatorServer.Postfix, "Postfix")},
		{MethodName: "Query", Handler: unaryHandler(EvaluatorServer.Query, "Query")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mexpr/v1/evaluator.proto",
}

// Server implements the Evaluator service.
type Server struct {
	eval *runtime.Evaluator
	grpc *grpc.Server
}

var _ EvaluatorServer = (*Server)(nil)

// New creates a new gRPC server around ev.
func New(ev *runtime.Evaluator) *Server {
	srv := &Server{eval: ev}

	gs := grpc.NewServer()
	gs.RegisterService(&ServiceDesc, srv)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeListener(lis)
}

// ServeListener serves gRPC requests on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

// Evaluate evaluates {expression, grammar, variables, dataset, row}.
// Variables may be numbers, booleans or literal strings; a string such as
// "3.0" keeps the double type that a plain number would lose.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	expression := fields["expression"].GetStringValue()
	if expression == "" {
		return nil, status.Error(codes.InvalidArgument, "expression is required")
	}
	grammar, err := expr.ParseGrammar(fields["grammar"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	vars, err := variablesFromStruct(fields["variables"].GetStructValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := s.eval.Evaluate(ctx, runtime.Request{
		Expression: expression,
		Grammar:    grammar,
		Variables:  vars,
		Dataset:    fields["dataset"].GetStringValue(),
		Row:        int(fields["row"].GetNumberValue()),
	})
	if err != nil {
		return nil, statusError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"result": map[string]interface{}{
			"type":  out.Result.Type().String(),
			"value": valueToProto(out.Result),
			"text":  out.Result.String(),
		},
		"grammar":    out.Program.Grammar.String(),
		"postfix":    stringList(out.Program.PostfixText()),
		"evaluation": out.Evaluation.Name,
	})
}

// Postfix converts {expression, grammar} to postfix.
func (s *Server) Postfix(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	grammar, err := expr.ParseGrammar(fields["grammar"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	prog, err := s.eval.Compile(fields["expression"].GetStringValue(), grammar)
	if err != nil {
		return nil, statusError(err)
	}
	tree, err := prog.Tree()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return structpb.NewStruct(map[string]interface{}{
		"grammar":   prog.Grammar.String(),
		"postfix":   stringList(prog.PostfixText()),
		"tree":      tree.String(),
		"variables": stringList(prog.Variables()),
	})
}

// Query runs {sql} against the datasets.
func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, res, err := sqlselect.Run(req.GetFields()["sql"].GetStringValue(), s.eval.Store())
	if err != nil {
		return nil, statusError(err)
	}

	rows := make([]interface{}, len(res.Rows))
	for i, row := range res.Rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = valueToProto(v)
		}
		rows[i] = cells
	}
	return structpb.NewStruct(map[string]interface{}{
		"canonical": q.Canonical,
		"columns":   stringList(res.Columns),
		"rows":      rows,
		"skipped":   res.Skipped,
	})
}

// --- Helpers ---

func statusError(err error) error {
	var evalErr *types.EvalError
	switch {
	case errors.Is(err, expr.ErrNoMatch), errors.Is(err, sqlselect.ErrInvalidQuery):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, expr.ErrUnresolvedVariable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrRowOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.As(err, &evalErr):
		return status.Errorf(codes.InvalidArgument, "[%s] %s", strings.Join(evalErr.Tags, ", "), evalErr.Message)
	}
	return status.Error(codes.Internal, err.Error())
}

func variablesFromStruct(st *structpb.Struct) (map[string]types.Value, error) {
	vars := make(map[string]types.Value, len(st.GetFields()))
	for name, pv := range st.GetFields() {
		var v types.Value
		switch kind := pv.GetKind().(type) {
		case *structpb.Value_NumberValue:
			v = types.ValueFromJSON(kind.NumberValue)
		case *structpb.Value_BoolValue:
			v = types.NewBool(kind.BoolValue)
		case *structpb.Value_StringValue:
			lit, err := types.ParseLiteral(kind.StringValue)
			if err != nil {
				return nil, fmt.Errorf("variable %s: %w", name, err)
			}
			v = lit
		default:
			return nil, fmt.Errorf("variable %s must be a number or a boolean", name)
		}
		vars[name] = v
	}
	return vars, nil
}

// valueToProto converts a value for structpb. Non-finite doubles become
// strings, as in the REST API.
func valueToProto(v types.Value) interface{} {
	if v.Type() == types.TypeDouble {
		f := v.AsDouble()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v.String()
		}
	}
	return v.ToGoValue()
}

func stringList(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
