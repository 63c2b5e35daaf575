// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuahub

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/gopcua/opcua"
	uaid "github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// Session is one physical connection to an OPC UA server. Implementations
// must be comparable; the Manager tells sessions apart with ==.
type Session interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Node returns a handle for the node. It performs no I/O.
	Node(id string) (Node, error)
}

// Node is a handle to a node in the server's address space.
type Node interface {
	ID() string
	NodeClass(ctx context.Context) (NodeClass, error)
	DisplayName(ctx context.Context) (string, error)
	Value(ctx context.Context) (any, error)
	Children(ctx context.Context) ([]Node, error)
	DataType(ctx context.Context) (DataType, error)
	AccessLevel(ctx context.Context) (AccessLevel, error)
	// Write writes v, which must already have the Go type matching the
	// node's data type.
	Write(ctx context.Context, v any) error
}

// SessionFactory creates a new, unconnected session for the configuration.
type SessionFactory func(cfg *Config) (Session, error)

// maxSupertypeHops bounds the HasSubtype walk when resolving a data type.
const maxSupertypeHops = 8

// enumerationTypeID is the numeric id of the Enumeration data type; its
// subtypes are transported as Int32.
const enumerationTypeID = 29

type uaSession struct {
	endpoint string
	client   *opcua.Client
}

// NewUASession creates a session backed by github.com/gopcua/opcua.
// Reconnection stays with the Manager, so the client's own auto reconnect
// is disabled.
func NewUASession(cfg *Config) (Session, error) {
	policy, err := securityPolicyURI(cfg.SecurityPolicy)
	if err != nil {
		return nil, err
	}

	opts := []opcua.Option{
		opcua.SecurityPolicy(policy),
		opcua.SecurityModeString(cfg.SecurityMode),
		opcua.RequestTimeout(cfg.RequestTimeout),
		opcua.AutoReconnect(false),
		opcua.ApplicationURI("urn:edgeo:opcuahub:client"),
		opcua.ProductURI("urn:edgeo:opcuahub"),
		opcua.SessionName(sessionName(cfg)),
	}

	if cfg.CertFile != "" {
		for _, f := range []string{cfg.CertFile, cfg.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return nil, &ConfigError{Field: "cert", Value: f, Err: err}
			}
		}
		opts = append(opts, opcua.CertificateFile(cfg.CertFile), opcua.PrivateKeyFile(cfg.KeyFile))
	}

	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, &ConfigError{Field: "url", Value: cfg.Endpoint, Err: err}
	}
	return &uaSession{endpoint: cfg.Endpoint, client: client}, nil
}

// sessionName makes every session of a process distinguishable in the
// server's diagnostics.
func sessionName(cfg *Config) string {
	return fmt.Sprintf("edgeo-opcuahub/%s/%s", cfg.Key(), uuid.NewString())
}

func (s *uaSession) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

func (s *uaSession) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *uaSession) Node(id string) (Node, error) {
	nid, err := ua.ParseNodeID(id)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidNodeID, id, err)
	}
	return s.wrap(s.client.Node(nid)), nil
}

func (s *uaSession) wrap(n *opcua.Node) *uaNode {
	return &uaNode{s: s, n: n, id: n.ID.String()}
}

type uaNode struct {
	s  *uaSession
	n  *opcua.Node
	id string
}

func (n *uaNode) ID() string { return n.id }

// attribute reads one attribute. A failed service call keeps its status as
// is; a bad status on the single result is reported as an item error.
func (n *uaNode) attribute(ctx context.Context, op string, attr ua.AttributeID) (*ua.Variant, error) {
	req := &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: n.n.ID, AttributeID: attr},
		},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}

	resp, err := n.s.client.Read(ctx, req)
	if err != nil {
		return nil, statusErr(op, n.id, err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return nil, &StatusError{Op: op, NodeID: n.id, Code: StatusBadUnexpectedError, Item: true}
	}
	res := resp.Results[0]
	if code := StatusCode(res.Status); code.IsBad() {
		return nil, &StatusError{Op: op, NodeID: n.id, Code: code, Item: true}
	}
	return res.Value, nil
}

func (n *uaNode) NodeClass(ctx context.Context) (NodeClass, error) {
	v, err := n.attribute(ctx, "read node class", ua.AttributeIDNodeClass)
	if err != nil {
		return NodeClassUnspecified, err
	}
	if v == nil {
		return NodeClassUnspecified, nil
	}
	return NodeClass(v.Int()), nil
}

func (n *uaNode) DisplayName(ctx context.Context) (string, error) {
	v, err := n.attribute(ctx, "read display name", ua.AttributeIDDisplayName)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	lt, ok := v.Value().(*ua.LocalizedText)
	if !ok || lt == nil {
		return "", nil
	}
	return lt.Text, nil
}

func (n *uaNode) Value(ctx context.Context) (any, error) {
	v, err := n.attribute(ctx, "read value", ua.AttributeIDValue)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.Value(), nil
}

func (n *uaNode) Children(ctx context.Context) ([]Node, error) {
	refs, err := n.n.Children(ctx, uaid.HierarchicalReferences, ua.NodeClassAll)
	if err != nil {
		return nil, statusErr("browse", n.id, err)
	}
	out := make([]Node, 0, len(refs))
	for _, r := range refs {
		out = append(out, n.s.wrap(r))
	}
	return out, nil
}

func (n *uaNode) AccessLevel(ctx context.Context) (AccessLevel, error) {
	v, err := n.attribute(ctx, "read access level", ua.AttributeIDAccessLevel)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	al, _ := v.Value().(uint8)
	return AccessLevel(al), nil
}

func (n *uaNode) DataType(ctx context.Context) (DataType, error) {
	v, err := n.attribute(ctx, "read data type", ua.AttributeIDDataType)
	if err != nil {
		return DataType{}, err
	}
	var dtID *ua.NodeID
	if v != nil {
		dtID, _ = v.Value().(*ua.NodeID)
	}
	if dtID == nil {
		return DataType{}, &StatusError{Op: "read data type", NodeID: n.id, Code: StatusBadTypeMismatch, Item: true}
	}

	dt := DataType{NodeID: dtID.String()}
	dt.Name, err = n.s.wrap(n.s.client.Node(dtID)).DisplayName(ctx)
	if err != nil {
		return DataType{}, err
	}

	dt.Builtin, err = n.s.builtinType(ctx, dtID)
	if err != nil {
		return DataType{}, err
	}
	return dt, nil
}

// builtinType follows inverse HasSubtype references until it reaches a
// namespace 0 built-in type.
func (s *uaSession) builtinType(ctx context.Context, dtID *ua.NodeID) (TypeID, error) {
	cur := dtID
	for i := 0; i < maxSupertypeHops; i++ {
		if cur.Namespace() == 0 {
			switch n := cur.IntID(); {
			case n >= uint32(TypeBoolean) && n <= uint32(TypeDiagnosticInfo):
				return TypeID(n), nil
			case n == enumerationTypeID:
				return TypeInt32, nil
			}
		}
		parents, err := s.client.Node(cur).ReferencedNodes(ctx, uaid.HasSubtype, ua.BrowseDirectionInverse, ua.NodeClassDataType, false)
		if err != nil {
			return TypeNull, statusErr("resolve data type", cur.String(), err)
		}
		if len(parents) == 0 {
			break
		}
		cur = parents[0].ID
	}
	return TypeNull, nil
}

func (n *uaNode) Write(ctx context.Context, v any) error {
	variant, err := ua.NewVariant(v)
	if err != nil {
		return &ConfigError{Field: "value", Value: fmt.Sprint(v), Err: fmt.Errorf("%w: %v", ErrUnsupportedType, err)}
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      n.n.ID,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	}

	resp, err := n.s.client.Write(ctx, req)
	if err != nil {
		return statusErr("write", n.id, err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return ErrWriteUnconfirmed
	}
	if StatusCode(resp.Results[0]).IsBad() {
		return &StatusError{Op: "write", NodeID: n.id, Code: StatusCode(resp.Results[0]), Item: true}
	}
	return nil
}

// statusErr converts gopcua status codes into StatusError and leaves every
// other error untouched.
func statusErr(op, nodeID string, err error) error {
	var sc ua.StatusCode
	if errors.As(err, &sc) {
		return &StatusError{Op: op, NodeID: nodeID, Code: StatusCode(sc)}
	}
	return err
}
