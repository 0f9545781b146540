package proto

import "testing"

func TestTagTable_InverseOverFullRange(t *testing.T) {
	seen := make(map[string]MsgType, int(MsgMax))
	for typ := MsgType(0); typ < MsgMax; typ++ {
		tag := TagOf(typ)
		if typ == MsgInvalid {
			continue
		}
		if tag == "" {
			t.Fatalf("type %d has an empty tag", typ)
		}
		if prev, dup := seen[tag]; dup {
			t.Fatalf("tag %q assigned to both %d and %d", tag, prev, typ)
		}
		seen[tag] = typ
		if got := TypeOf(tag); got != typ {
			t.Fatalf("TypeOf(TagOf(%d)) = %d, want %d", typ, got, typ)
		}
	}
}

func TestTypeOf_UnknownTag(t *testing.T) {
	if got := TypeOf("NOT_A_REAL_TAG"); got != MsgInvalid {
		t.Fatalf("expected MsgInvalid for unknown tag, got %v", got)
	}
	if got := TypeOf(""); got != MsgInvalid {
		t.Fatalf("expected MsgInvalid for empty tag, got %v", got)
	}
}

func TestTagOf_OutOfRange(t *testing.T) {
	invalid := TagOf(MsgInvalid)
	if invalid != "INVALID" {
		t.Fatalf("expected index-0 tag INVALID, got %q", invalid)
	}
	for _, typ := range []MsgType{0, MsgMax, MsgMax + 1, MsgMax + 1000} {
		if got := TagOf(typ); got != invalid {
			t.Fatalf("TagOf(%d) = %q, want the reserved tag %q", typ, got, invalid)
		}
	}
}

func TestMsgType_StringMatchesTag(t *testing.T) {
	if got := MsgActorReplication.String(); got != "ACTOR_REPLICATION" {
		t.Fatalf("String() = %q, want ACTOR_REPLICATION", got)
	}
	if got := MsgType(9999).String(); got != "INVALID" {
		t.Fatalf("String() on out-of-range type = %q, want INVALID", got)
	}
}
