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

// Package testutil provides an in-memory OPC UA server for tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edgeo-scada/opcuahub"
)

// Common data types.
var (
	BooleanType = opcuahub.DataType{NodeID: "i=1", Name: "Boolean", Builtin: opcuahub.TypeBoolean}
	Int32Type   = opcuahub.DataType{NodeID: "i=6", Name: "Int32", Builtin: opcuahub.TypeInt32}
	DoubleType  = opcuahub.DataType{NodeID: "i=11", Name: "Double", Builtin: opcuahub.TypeDouble}
	StringType  = opcuahub.DataType{NodeID: "i=12", Name: "String", Builtin: opcuahub.TypeString}
)

// ReadWrite is the access level of a writable variable.
const ReadWrite = opcuahub.AccessLevelCurrentRead | opcuahub.AccessLevelCurrentWrite

// FakeNode is one node of a FakeServer address space. The Err fields make
// the corresponding read fail.
type FakeNode struct {
	ID       string
	Class    opcuahub.NodeClass
	Name     string
	Value    any
	DataType opcuahub.DataType
	Access   opcuahub.AccessLevel
	Children []string

	ClassErr    error
	NameErr     error
	ValueErr    error
	ChildrenErr error
	WriteErr    error
}

// Object returns an object node with the given children.
func Object(id, name string, children ...string) *FakeNode {
	return &FakeNode{ID: id, Class: opcuahub.NodeClassObject, Name: name, Children: children}
}

// Variable returns a read-only variable. The data type follows the Go type
// of v.
func Variable(id, name string, v any) *FakeNode {
	return &FakeNode{
		ID:       id,
		Class:    opcuahub.NodeClassVariable,
		Name:     name,
		Value:    v,
		DataType: typeOf(v),
		Access:   opcuahub.AccessLevelCurrentRead,
	}
}

// Writable returns a read-write variable.
func Writable(id, name string, v any) *FakeNode {
	n := Variable(id, name, v)
	n.Access = ReadWrite
	return n
}

func typeOf(v any) opcuahub.DataType {
	switch v.(type) {
	case bool:
		return BooleanType
	case int32:
		return Int32Type
	case float64:
		return DoubleType
	case string:
		return StringType
	}
	return opcuahub.DataType{NodeID: "i=24", Name: "BaseDataType", Builtin: opcuahub.TypeVariant}
}

// FakeServer is an in-memory address space with failure injection. It
// hands out sessions through Factory.
type FakeServer struct {
	mu         sync.Mutex
	nodes      map[string]*FakeNode
	connectErr error
	failures   []error
	handshakes int
	closes     int
	ops        int
	delay      time.Duration
	sessions   []*FakeSession
}

// NewFakeServer creates a server holding nodes.
func NewFakeServer(nodes ...*FakeNode) *FakeServer {
	s := &FakeServer{nodes: make(map[string]*FakeNode)}
	s.Add(nodes...)
	return s
}

// Add adds or replaces nodes.
func (s *FakeServer) Add(nodes ...*FakeNode) *FakeServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

// Factory returns a session factory connecting to this server.
func (s *FakeServer) Factory() opcuahub.SessionFactory {
	return func(*opcuahub.Config) (opcuahub.Session, error) {
		sess := &FakeSession{srv: s}
		s.mu.Lock()
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()
		return sess, nil
	}
}

// SetConnectError makes every following handshake fail with err. Pass nil
// to accept connections again.
func (s *FakeServer) SetConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailNext makes the next len(errs) node operations fail, in order.
func (s *FakeServer) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// SetDelay makes every node operation take d.
func (s *FakeServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// DropSessions breaks every open session, as a server restart would.
func (s *FakeServer) DropSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.broken = true
	}
}

// Handshakes returns the number of Connect calls that reached the server.
func (s *FakeServer) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Closes returns the number of Close calls.
func (s *FakeServer) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Ops returns the number of node operations served, failed ones included.
func (s *FakeServer) Ops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops
}

// ValueOf returns the current value of a node.
func (s *FakeServer) ValueOf(id string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return n.Value
	}
	return nil
}

// SetValue changes the value of a node.
func (s *FakeServer) SetValue(id string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		n.Value = v
	}
}

// FakeSession is a session of a FakeServer.
type FakeSession struct {
	srv       *FakeServer
	connected bool
	broken    bool
}

func (c *FakeSession) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.handshakes++
	if c.srv.connectErr != nil {
		return c.srv.connectErr
	}
	c.connected = true
	return nil
}

func (c *FakeSession) Close(context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.closes++
	c.connected = false
	return nil
}

func (c *FakeSession) Node(id string) (opcuahub.Node, error) {
	if id == "" || !strings.Contains(id, "=") {
		return nil, fmt.Errorf("%w %q", opcuahub.ErrInvalidNodeID, id)
	}
	return &fakeNode{sess: c, id: id}, nil
}

type fakeNode struct {
	sess *FakeSession
	id   string
}

// do serves one operation and returns a copy of the node.
func (n *fakeNode) do(ctx context.Context, op string) (FakeNode, error) {
	srv := n.sess.srv

	srv.mu.Lock()
	delay := srv.delay
	srv.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return FakeNode{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return FakeNode{}, err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.ops++

	if !n.sess.connected || n.sess.broken {
		return FakeNode{}, &opcuahub.StatusError{Op: op, NodeID: n.id, Code: opcuahub.StatusBadConnectionClosed}
	}
	if len(srv.failures) > 0 {
		err := srv.failures[0]
		srv.failures = srv.failures[1:]
		return FakeNode{}, err
	}
	node, ok := srv.nodes[n.id]
	if !ok {
		return FakeNode{}, &opcuahub.StatusError{Op: op, NodeID: n.id, Code: opcuahub.StatusBadNodeIDUnknown, Item: true}
	}
	return *node, nil
}

func (n *fakeNode) ID() string { return n.id }

func (n *fakeNode) NodeClass(ctx context.Context) (opcuahub.NodeClass, error) {
	node, err := n.do(ctx, "read node class")
	if err != nil {
		return opcuahub.NodeClassUnspecified, err
	}
	return node.Class, node.ClassErr
}

func (n *fakeNode) DisplayName(ctx context.Context) (string, error) {
	node, err := n.do(ctx, "read display name")
	if err != nil {
		return "", err
	}
	return node.Name, node.NameErr
}

func (n *fakeNode) Value(ctx context.Context) (any, error) {
	node, err := n.do(ctx, "read value")
	if err != nil {
		return nil, err
	}
	if node.ValueErr != nil {
		return nil, node.ValueErr
	}
	return node.Value, nil
}

func (n *fakeNode) Children(ctx context.Context) ([]opcuahub.Node, error) {
	node, err := n.do(ctx, "browse")
	if err != nil {
		return nil, err
	}
	if node.ChildrenErr != nil {
		return nil, node.ChildrenErr
	}
	out := make([]opcuahub.Node, 0, len(node.Children))
	for _, id := range node.Children {
		out = append(out, &fakeNode{sess: n.sess, id: id})
	}
	return out, nil
}

func (n *fakeNode) DataType(ctx context.Context) (opcuahub.DataType, error) {
	node, err := n.do(ctx, "read data type")
	if err != nil {
		return opcuahub.DataType{}, err
	}
	if node.Class != opcuahub.NodeClassVariable {
		return opcuahub.DataType{}, &opcuahub.StatusError{Op: "read data type", NodeID: n.id, Code: opcuahub.StatusBadAttributeIDInvalid, Item: true}
	}
	return node.DataType, nil
}

func (n *fakeNode) AccessLevel(ctx context.Context) (opcuahub.AccessLevel, error) {
	node, err := n.do(ctx, "read access level")
	if err != nil {
		return 0, err
	}
	return node.Access, nil
}

func (n *fakeNode) Write(ctx context.Context, v any) error {
	node, err := n.do(ctx, "write")
	if err != nil {
		return err
	}
	if node.WriteErr != nil {
		return node.WriteErr
	}
	if !node.Access.Writable() {
		return &opcuahub.StatusError{Op: "write", NodeID: n.id, Code: opcuahub.StatusBadNotWritable, Item: true}
	}
	if typeOf(v).Builtin != node.DataType.Builtin {
		return &opcuahub.StatusError{Op: "write", NodeID: n.id, Code: opcuahub.StatusBadTypeMismatch}
	}
	n.sess.srv.SetValue(n.id, v)
	return nil
}
