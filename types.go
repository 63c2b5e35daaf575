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

// Package opcuahub connects to an OPC UA server, discovers the variables
// beneath a configured root node and keeps a periodically refreshed
// snapshot of their values. Writes go through the same shared session.
package opcuahub

import "fmt"

// ConnectionState represents the state of a hub connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NodeClass identifies the class of an OPC UA node.
type NodeClass uint32

// OPC UA Node Classes.
const (
	NodeClassUnspecified   NodeClass = 0
	NodeClassObject        NodeClass = 1
	NodeClassVariable      NodeClass = 2
	NodeClassMethod        NodeClass = 4
	NodeClassObjectType    NodeClass = 8
	NodeClassVariableType  NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType      NodeClass = 64
	NodeClassView          NodeClass = 128
)

// String returns the string representation of a NodeClass.
func (n NodeClass) String() string {
	switch n {
	case NodeClassUnspecified:
		return "Unspecified"
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	case NodeClassObjectType:
		return "ObjectType"
	case NodeClassVariableType:
		return "VariableType"
	case NodeClassReferenceType:
		return "ReferenceType"
	case NodeClassDataType:
		return "DataType"
	case NodeClassView:
		return "View"
	default:
		return "Unknown"
	}
}

// descends reports whether discovery walks into children of this class.
func (n NodeClass) descends() bool {
	switch n {
	case NodeClassObject, NodeClassObjectType, NodeClassVariableType, NodeClassVariable:
		return true
	}
	return false
}

// TypeID identifies an OPC UA built-in data type.
type TypeID uint8

// OPC UA Built-in Types.
const (
	TypeNull            TypeID = 0
	TypeBoolean         TypeID = 1
	TypeSByte           TypeID = 2
	TypeByte            TypeID = 3
	TypeInt16           TypeID = 4
	TypeUInt16          TypeID = 5
	TypeInt32           TypeID = 6
	TypeUInt32          TypeID = 7
	TypeInt64           TypeID = 8
	TypeUInt64          TypeID = 9
	TypeFloat           TypeID = 10
	TypeDouble          TypeID = 11
	TypeString          TypeID = 12
	TypeDateTime        TypeID = 13
	TypeGUID            TypeID = 14
	TypeByteString      TypeID = 15
	TypeXMLElement      TypeID = 16
	TypeNodeID          TypeID = 17
	TypeExpandedNodeID  TypeID = 18
	TypeStatusCode      TypeID = 19
	TypeQualifiedName   TypeID = 20
	TypeLocalizedText   TypeID = 21
	TypeExtensionObject TypeID = 22
	TypeDataValue       TypeID = 23
	TypeVariant         TypeID = 24
	TypeDiagnosticInfo  TypeID = 25
)

var typeNames = [...]string{
	"Null", "Boolean", "SByte", "Byte", "Int16", "UInt16", "Int32", "UInt32",
	"Int64", "UInt64", "Float", "Double", "String", "DateTime", "Guid",
	"ByteString", "XmlElement", "NodeId", "ExpandedNodeId", "StatusCode",
	"QualifiedName", "LocalizedText", "ExtensionObject", "DataValue",
	"Variant", "DiagnosticInfo",
}

// String returns the OPC UA name of the built-in type.
func (t TypeID) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// IsNumeric reports whether the type is one of the integer or floating point
// built-in types.
func (t TypeID) IsNumeric() bool {
	return t >= TypeSByte && t <= TypeDouble
}

// DataType is the declared data type of a variable node.
type DataType struct {
	// NodeID of the data type node, e.g. "i=1".
	NodeID string
	// Name is the display name of the data type node.
	Name string
	// Builtin is the built-in type the data type resolves to.
	Builtin TypeID
}

// AccessLevel holds the access level bit flags of a variable node.
type AccessLevel uint8

// Access level bits.
const (
	AccessLevelCurrentRead  AccessLevel = 0x01
	AccessLevelCurrentWrite AccessLevel = 0x02
	AccessLevelHistoryRead  AccessLevel = 0x04
	AccessLevelHistoryWrite AccessLevel = 0x08
)

// Readable reports whether the current value may be read.
func (a AccessLevel) Readable() bool { return a&AccessLevelCurrentRead != 0 }

// Writable reports whether the current value may be written.
func (a AccessLevel) Writable() bool { return a&AccessLevelCurrentWrite != 0 }

// Classification tells a consumer how a discovered node can be used.
type Classification int

const (
	PlainVariable Classification = iota
	WritableBoolean
	WritableNumber
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case PlainVariable:
		return "plain"
	case WritableBoolean:
		return "writable_boolean"
	case WritableNumber:
		return "writable_number"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// NodeDescriptor is a variable found during discovery. It is never
// modified after discovery returns it.
type NodeDescriptor struct {
	Name           string         `json:"name" yaml:"name"`
	NodeID         string         `json:"node_id" yaml:"node_id"`
	Classification Classification `json:"classification" yaml:"classification"`
	// Value observed while walking the address space.
	Value any `json:"value" yaml:"value"`
}
