package models

import "testing"

func TestValidUsername(t *testing.T) {
	cases := []struct {
		username string
		valid    bool
	}{
		{"dj", false},
		{"abc", true},
		{"mix.master", true},
		{"mix_master-99", true},
		{"Upper", false},
		{".leading", false},
		{"trailing.", false},
		{"doubled..dot", false},
		{"with space", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 46 chars
	}
	for _, tc := range cases {
		if got := ValidUsername(tc.username); got != tc.valid {
			t.Errorf("ValidUsername(%q) = %v, want %v", tc.username, got, tc.valid)
		}
	}
}

func TestRoomStaffRank(t *testing.T) {
	room := Room{Staff: []RoomStaff{
		{UserID: "owner", Rank: StaffRankOwner},
		{UserID: "mod", Rank: 500},
	}}
	if got := room.StaffRank("owner"); got != StaffRankOwner {
		t.Fatalf("StaffRank(owner) = %d", got)
	}
	if got := room.StaffRank("mod"); got != 500 {
		t.Fatalf("StaffRank(mod) = %d", got)
	}
	if got := room.StaffRank("stranger"); got != 0 {
		t.Fatalf("StaffRank(stranger) = %d", got)
	}
}
