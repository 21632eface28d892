package m223s

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5/introspect"
)

// IntrospectFunc queries one node of the transport's object tree and
// returns its raw introspection document. The walker is a pure function
// over this capability so it can be exercised without a live bus.
type IntrospectFunc func(ctx context.Context, path string) (string, error)

// NodeInfo is the result of enumerating a single node.
type NodeInfo struct {
	// Children holds the names of the node's immediate child objects.
	Children []string

	// Interface is the declared interface whose name is prefixed by the
	// destination namespace, or empty when the node declares none.
	Interface string
}

// Enumerate introspects one node and parses its descriptor markup into
// child names and the namespace-matching interface.
//
// Unlike Walk, Enumerate propagates the query error so callers can
// distinguish "node has nothing under it" from "query failed".
func Enumerate(ctx context.Context, query IntrospectFunc, path, namespace string) (NodeInfo, error) {
	doc, err := query(ctx, path)
	if err != nil {
		return NodeInfo{}, fmt.Errorf("introspect %s: %w", path, err)
	}
	return parseNode(doc, namespace)
}

// parseNode extracts child node names and the first namespace-prefixed
// interface from an introspection document.
func parseNode(doc, namespace string) (NodeInfo, error) {
	var node introspect.Node
	if err := xml.Unmarshal([]byte(doc), &node); err != nil {
		return NodeInfo{}, fmt.Errorf("parse introspection: %w", err)
	}

	info := NodeInfo{}
	for _, child := range node.Children {
		if child.Name != "" {
			info.Children = append(info.Children, child.Name)
		}
	}
	for _, iface := range node.Interfaces {
		if strings.HasPrefix(iface.Name, namespace) {
			info.Interface = iface.Name
			break
		}
	}
	return info, nil
}

// Walk applies Enumerate depth-first from root, invoking visit for the
// root and then for every descendant path, pre-order.
//
// A failed query prunes that branch silently: descriptor availability is
// flaky while a connection is still settling, and a partial walk is more
// useful than none. The external hierarchy is a tree by construction, so
// no cycle protection is needed.
func Walk(ctx context.Context, query IntrospectFunc, root, namespace string, visit func(path, iface string)) {
	info, err := Enumerate(ctx, query, root, namespace)
	if err != nil {
		return
	}
	visit(root, info.Interface)
	for _, child := range info.Children {
		Walk(ctx, query, root+"/"+child, namespace, visit)
	}
}
