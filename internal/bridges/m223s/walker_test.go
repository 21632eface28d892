package m223s

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// fakeTree maps object paths to introspection documents, standing in for
// a live bus.
type fakeTree map[string]string

func (f fakeTree) introspect(_ context.Context, path string) (string, error) {
	doc, ok := f[path]
	if !ok {
		return "", errors.New("no such object")
	}
	return doc, nil
}

func TestEnumerate(t *testing.T) {
	tree := fakeTree{
		"/org/bluez": `<node>
			<interface name="org.freedesktop.DBus.Introspectable"/>
			<node name="hci0"/>
			<node name="hci1"/>
		</node>`,
	}

	info, err := Enumerate(context.Background(), tree.introspect, "/org/bluez", "org.bluez")
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	want := []string{"hci0", "hci1"}
	if !reflect.DeepEqual(info.Children, want) {
		t.Errorf("Children = %v, want %v", info.Children, want)
	}
	if info.Interface != "" {
		t.Errorf("Interface = %q, want empty (no namespace match)", info.Interface)
	}
}

func TestEnumerate_NamespaceInterface(t *testing.T) {
	tree := fakeTree{
		"/org/bluez/hci0": `<node>
			<interface name="org.freedesktop.DBus.Properties"/>
			<interface name="org.bluez.Adapter1"/>
			<node name="dev_F9_DA_73_71_23_4A"/>
		</node>`,
	}

	info, err := Enumerate(context.Background(), tree.introspect, "/org/bluez/hci0", "org.bluez")
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}

	if info.Interface != "org.bluez.Adapter1" {
		t.Errorf("Interface = %q, want %q", info.Interface, "org.bluez.Adapter1")
	}
	if len(info.Children) != 1 || info.Children[0] != "dev_F9_DA_73_71_23_4A" {
		t.Errorf("Children = %v, want [dev_F9_DA_73_71_23_4A]", info.Children)
	}
}

func TestEnumerate_QueryError(t *testing.T) {
	tree := fakeTree{}

	_, err := Enumerate(context.Background(), tree.introspect, "/missing", "org.bluez")
	if err == nil {
		t.Fatal("Enumerate() expected error for failed query")
	}
}

func TestEnumerate_MalformedDocument(t *testing.T) {
	tree := fakeTree{
		"/org/bluez": `<node><unclosed`,
	}

	_, err := Enumerate(context.Background(), tree.introspect, "/org/bluez", "org.bluez")
	if err == nil {
		t.Fatal("Enumerate() expected error for malformed document")
	}
}

func TestWalk_PreOrder(t *testing.T) {
	tree := fakeTree{
		"/dev": `<node>
			<interface name="org.bluez.Device1"/>
			<node name="service000a"/>
		</node>`,
		"/dev/service000a": `<node>
			<interface name="org.bluez.GattService1"/>
			<node name="char000b"/>
			<node name="char000d"/>
		</node>`,
		"/dev/service000a/char000b": `<node>
			<interface name="org.bluez.GattCharacteristic1"/>
		</node>`,
		"/dev/service000a/char000d": `<node>
			<interface name="org.bluez.GattCharacteristic1"/>
		</node>`,
	}

	var visited []string
	var ifaces []string
	Walk(context.Background(), tree.introspect, "/dev", "org.bluez", func(path, iface string) {
		visited = append(visited, path)
		ifaces = append(ifaces, iface)
	})

	wantPaths := []string{
		"/dev",
		"/dev/service000a",
		"/dev/service000a/char000b",
		"/dev/service000a/char000d",
	}
	if !reflect.DeepEqual(visited, wantPaths) {
		t.Errorf("visited = %v, want %v", visited, wantPaths)
	}

	wantIfaces := []string{
		"org.bluez.Device1",
		"org.bluez.GattService1",
		"org.bluez.GattCharacteristic1",
		"org.bluez.GattCharacteristic1",
	}
	if !reflect.DeepEqual(ifaces, wantIfaces) {
		t.Errorf("interfaces = %v, want %v", ifaces, wantIfaces)
	}
}

func TestWalk_PrunesFailedBranch(t *testing.T) {
	// service000a resolves, its child does not, and the sibling branch
	// is missing entirely: the walk visits what it can.
	tree := fakeTree{
		"/dev": `<node>
			<interface name="org.bluez.Device1"/>
			<node name="service000a"/>
			<node name="service00ff"/>
		</node>`,
		"/dev/service000a": `<node>
			<interface name="org.bluez.GattService1"/>
			<node name="char000b"/>
		</node>`,
	}

	var visited []string
	Walk(context.Background(), tree.introspect, "/dev", "org.bluez", func(path, _ string) {
		visited = append(visited, path)
	})

	want := []string{"/dev", "/dev/service000a"}
	if !reflect.DeepEqual(visited, want) {
		t.Errorf("visited = %v, want %v", visited, want)
	}
}

func TestWalk_RootQueryFails(t *testing.T) {
	tree := fakeTree{}

	called := false
	Walk(context.Background(), tree.introspect, "/missing", "org.bluez", func(string, string) {
		called = true
	})

	if called {
		t.Error("visit should not be called when the root query fails")
	}
}
