// Package translationpb is the gRPC client stub for the external
// translation collaborator that component O (internal/resolver) asks
// for class_name → WidgetClass lookups.
//
// The wire messages are the well-known wrapper/struct protobuf types
// (google.golang.org/protobuf/types/known/{wrapperspb,structpb})
// rather than a custom generated message: this repository's build
// cannot invoke protoc, so a hand-written .pb.go would not be a real
// generated artifact. Using the well-known types keeps the grpc and
// protobuf dependencies genuinely exercised — a real unary RPC over a
// real proto.Message — without fabricating generated code.
package translationpb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LookupWidgetClassMethod is the fully-qualified gRPC method name
// invoked for a class lookup.
const LookupWidgetClassMethod = "/cm4all.bengproxy.translation.v1.WidgetRegistry/LookupWidgetClass"

// Client issues widget-class lookups against a translation server over
// an existing gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established gRPC connection (or any
// grpc.ClientConnInterface, for testing).
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// LookupWidgetClass calls the translation server's LookupWidgetClass
// RPC with className and returns the response as a structpb.Struct.
// A response with no fields at all (the server's way of saying "no
// such class") is returned as a nil *structpb.Struct with a nil
// error, matching the registry's "null class" outcome.
func (c *Client) LookupWidgetClass(ctx context.Context, className string) (*structpb.Struct, error) {
	req := wrapperspb.String(className)
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, LookupWidgetClassMethod, req, resp); err != nil {
		return nil, fmt.Errorf("translationpb: lookup %q: %w", className, err)
	}
	if len(resp.GetFields()) == 0 {
		return nil, nil
	}
	return resp, nil
}
