package coap

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape classifies a Path into one of the four forms the engine recognises.
type Shape int

const (
	ShapeRoot Shape = iota
	ShapeObject
	ShapeObjectInstance
	ShapeResource
)

func (s Shape) String() string {
	switch s {
	case ShapeRoot:
		return "root"
	case ShapeObject:
		return "object"
	case ShapeObjectInstance:
		return "object-instance"
	case ShapeResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Path is an ordered sequence of 1 to 3 uint16 components: /obj, /obj/inst
// or /obj/inst/res. The zero-length Path represents the root form "/",
// which only the Bootstrap Server's delete operation accepts.
type Path struct {
	Object   uint16
	Instance uint16
	Resource uint16
	shape    Shape
}

// NoInstance is the reserved id meaning "no instance": instance ids
// never take this value.
const NoInstance uint16 = 0xFFFF

// Shape returns the classification of p.
func (p Path) Shape() Shape { return p.shape }

// String renders p back into its slash-separated form.
func (p Path) String() string {
	switch p.shape {
	case ShapeRoot:
		return "/"
	case ShapeObject:
		return fmt.Sprintf("/%d", p.Object)
	case ShapeObjectInstance:
		return fmt.Sprintf("/%d/%d", p.Object, p.Instance)
	case ShapeResource:
		return fmt.Sprintf("/%d/%d/%d", p.Object, p.Instance, p.Resource)
	default:
		return ""
	}
}

// ObjectPath returns the /obj path for objectID.
func ObjectPath(objectID uint16) Path {
	return Path{Object: objectID, shape: ShapeObject}
}

// ObjectInstancePath returns the /obj/inst path for the given ids.
func ObjectInstancePath(objectID, instanceID uint16) Path {
	return Path{Object: objectID, Instance: instanceID, shape: ShapeObjectInstance}
}

// ResourcePath returns the /obj/inst/res path for the given ids.
func ResourcePath(objectID, instanceID, resourceID uint16) Path {
	return Path{Object: objectID, Instance: instanceID, Resource: resourceID, shape: ShapeResource}
}

// RootPath returns the "/" path, only valid for Bootstrap-Delete.
func RootPath() Path {
	return Path{shape: ShapeRoot}
}

// ParsePath classifies a URI-Path string (e.g. "/3/0/1", "/3", "/") into a
// Path. It returns ErrInvalidArgument for anything that isn't 0-3 unsigned
// 16-bit decimal segments.
func ParsePath(uriPath string) (Path, error) {
	trimmed := strings.Trim(uriPath, "/")
	if trimmed == "" {
		return RootPath(), nil
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) > 3 {
		return Path{}, fmt.Errorf("%w: path %q has more than 3 segments", ErrInvalidArgument, uriPath)
	}
	ids := make([]uint16, len(segments))
	for i, seg := range segments {
		n, err := strconv.ParseUint(seg, 10, 16)
		if err != nil {
			return Path{}, fmt.Errorf("%w: path segment %q is not a uint16: %s", ErrInvalidArgument, seg, err)
		}
		ids[i] = uint16(n)
	}
	switch len(ids) {
	case 1:
		return ObjectPath(ids[0]), nil
	case 2:
		return ObjectInstancePath(ids[0], ids[1]), nil
	case 3:
		return ResourcePath(ids[0], ids[1], ids[2]), nil
	default:
		return Path{}, fmt.Errorf("%w: unreachable segment count", ErrInvalidArgument)
	}
}
