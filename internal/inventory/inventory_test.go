package inventory

import (
	"reflect"
	"testing"
)

const sampleInventory = `
all:
  vars:
    dns_server: 10.0.0.2
  hosts:
    bastion:
      login_user: ops
  children:
    web:
      hosts:
        web1:
          http_port: 8080
        web2: {}
      vars:
        http_port: 80
        role: frontend
    db:
      hosts:
        db1: {}
      vars:
        role: storage
    prod:
      children:
        web: {}
        db: {}
      vars:
        env: prod
`

func load(t *testing.T) *Inventory {
	t.Helper()
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return inv
}

func TestHostsAndGroups(t *testing.T) {
	inv := load(t)
	wantHosts := []string{"bastion", "db1", "web1", "web2"}
	if got := inv.Hosts(); !reflect.DeepEqual(got, wantHosts) {
		t.Fatalf("Hosts() = %v, want %v", got, wantHosts)
	}
	groups := inv.Groups()
	for _, want := range []string{"all", "ungrouped", "web", "db", "prod"} {
		found := false
		for _, g := range groups {
			if g == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Groups() missing %q: %v", want, groups)
		}
	}
}

func TestUngroupedHoldsBareHosts(t *testing.T) {
	inv := load(t)
	hosts, err := inv.Match("ungrouped")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hosts, []string{"bastion"}) {
		t.Fatalf("ungrouped = %v", hosts)
	}
}

func TestMatchGroupAndChildren(t *testing.T) {
	inv := load(t)
	hosts, err := inv.Match("prod")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"db1", "web1", "web2"}
	if !reflect.DeepEqual(hosts, want) {
		t.Fatalf("Match(prod) = %v, want %v", hosts, want)
	}
}

func TestMatchUnionExclusionIntersection(t *testing.T) {
	inv := load(t)

	hosts, err := inv.Match("web,db")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hosts, []string{"db1", "web1", "web2"}) {
		t.Fatalf("union = %v", hosts)
	}

	hosts, err = inv.Match("all:!db")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hosts, []string{"bastion", "web1", "web2"}) {
		t.Fatalf("exclusion = %v", hosts)
	}

	hosts, err = inv.Match("prod:&web")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hosts, []string{"web1", "web2"}) {
		t.Fatalf("intersection = %v", hosts)
	}
}

func TestMatchGlob(t *testing.T) {
	inv := load(t)
	hosts, err := inv.Match("web*")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hosts, []string{"web1", "web2"}) {
		t.Fatalf("glob = %v", hosts)
	}
}

func TestMatchUnknownTermErrors(t *testing.T) {
	inv := load(t)
	if _, err := inv.Match("nosuch"); err == nil {
		t.Fatal("expected error for unknown term")
	}
}

func TestVarsPrecedence(t *testing.T) {
	inv := load(t)
	vars := inv.Vars("web1")

	// all < prod < web < host
	if vars["dns_server"] != "10.0.0.2" {
		t.Errorf("dns_server = %v", vars["dns_server"])
	}
	if vars["env"] != "prod" {
		t.Errorf("env = %v", vars["env"])
	}
	if vars["role"] != "frontend" {
		t.Errorf("role = %v", vars["role"])
	}
	if vars["http_port"] != 8080 {
		t.Errorf("host var should win: http_port = %v", vars["http_port"])
	}
	if vars["inventory_hostname"] != "web1" {
		t.Errorf("inventory_hostname = %v", vars["inventory_hostname"])
	}

	// web2 has no host override, the group var applies.
	if got := inv.Vars("web2")["http_port"]; got != 80 {
		t.Errorf("web2 http_port = %v, want 80", got)
	}
}
