package resolver

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cm4all/bengproxy/internal/widget"
)

// translationClient is the subset of *translationpb.Client that the
// gRPC-backed Collaborator depends on (accepting the interface keeps
// this package free of a direct translationpb import cycle risk and
// makes it trivial to fake in tests).
type translationClient interface {
	LookupWidgetClass(ctx context.Context, className string) (*structpb.Struct, error)
}

// GRPCCollaborator adapts a translationpb.Client to the Collaborator
// interface, converting its structpb.Struct response into a
// *widget.Class.
type GRPCCollaborator struct {
	client translationClient
}

// NewGRPCCollaborator builds a Collaborator backed by a translation
// gRPC client.
func NewGRPCCollaborator(client translationClient) *GRPCCollaborator {
	return &GRPCCollaborator{client: client}
}

func (g *GRPCCollaborator) LookupWidgetClass(ctx context.Context, className string) (*widget.Class, error) {
	s, err := g.client.LookupWidgetClass(ctx, className)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return structToClass(s), nil
}

func structToClass(s *structpb.Struct) *widget.Class {
	fields := s.GetFields()
	cls := &widget.Class{
		LocalURI:               stringField(fields, "local_uri"),
		Container:              boolField(fields, "container"),
		UntrustedHost:          stringField(fields, "untrusted_host"),
		UntrustedPrefix:        stringField(fields, "untrusted_prefix"),
		UntrustedSiteSuffix:    stringField(fields, "untrusted_site_suffix"),
		UntrustedRawSiteSuffix: stringField(fields, "untrusted_raw_site_suffix"),
	}
	if scheme, host, path := stringField(fields, "address_scheme"), stringField(fields, "address_host"), stringField(fields, "address_path"); host != "" {
		cls.Address = &widget.HTTPAddress{Scheme: scheme, Host: host, Path: path}
	}
	if groupsList := fields["groups"].GetListValue(); groupsList != nil {
		allowed := make(map[string]bool, len(groupsList.Values))
		groups := make([]string, 0, len(groupsList.Values))
		for _, v := range groupsList.Values {
			g := v.GetStringValue()
			groups = append(groups, g)
			allowed[g] = true
		}
		cls.Groups = groups
		cls.AllowedGroups = allowed
	}
	return cls
}

func stringField(fields map[string]*structpb.Value, name string) string {
	return fields[name].GetStringValue()
}

func boolField(fields map[string]*structpb.Value, name string) bool {
	return fields[name].GetBoolValue()
}
