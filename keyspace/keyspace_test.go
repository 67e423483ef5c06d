package keyspace

import "testing"

func TestRootKey(t *testing.T) {
	got := RootKey()
	want := "/_clusterlib/_v1/root"
	if got != want {
		t.Errorf("RootKey() = %q, want %q", got, want)
	}
}

func TestJoinAndChild(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"join", Join("/a/b", SegGroups, "g1"), "/a/b/GROUPS/g1"},
		{"child", Child("/a/b", SegConnected), "/a/b/CONNECTED"},
		{"apps path", AppsPath("/root"), "/root/APPS"},
		{"groups path", GroupsPath("/root/APPS/app1"), "/root/APPS/app1/GROUPS"},
		{"shards path", ShardsPath("/dd1"), "/dd1/SHARDS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFormatAndParseSeq(t *testing.T) {
	tests := []int64{0, 1, 42, 9999999999}
	for _, n := range tests {
		formatted := FormatSeq(n)
		if len(formatted) != SeqWidth {
			t.Fatalf("FormatSeq(%d) = %q, want width %d", n, formatted, SeqWidth)
		}
		got, err := ParseSeq("BID-holder1-" + formatted)
		if err != nil {
			t.Fatalf("ParseSeq: %v", err)
		}
		if got != n {
			t.Errorf("ParseSeq round trip: got %d, want %d", got, n)
		}
	}
}

func TestParseSeqTooShort(t *testing.T) {
	if _, err := ParseSeq("abc"); err == nil {
		t.Error("expected error for name shorter than SeqWidth")
	}
}

func TestBidAndQueueElementNames(t *testing.T) {
	bid := BidName("session-1", 7)
	if !IsBidChild(bid) {
		t.Errorf("BidName(%q) not recognized by IsBidChild", bid)
	}
	if IsQueueElement(bid) {
		t.Errorf("BidName(%q) wrongly recognized as a queue element", bid)
	}

	elem := QueueElementName(7)
	if !IsQueueElement(elem) {
		t.Errorf("QueueElementName(%q) not recognized by IsQueueElement", elem)
	}
	if IsBidChild(elem) {
		t.Errorf("QueueElementName(%q) wrongly recognized as a bid child", elem)
	}
}

func TestBase(t *testing.T) {
	tests := []struct{ path, want string }{
		{"/a/b/c", "c"},
		{"c", "c"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := Base(tt.path); got != tt.want {
			t.Errorf("Base(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"root", "/", false},
		{"normal", "/a/b/c", false},
		{"no leading slash", "a/b", true},
		{"trailing slash", "/a/b/", true},
		{"empty", "", true},
		{"double slash", "/a//b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
