package domain

import "testing"

func TestChannelMatchFilterNames(t *testing.T) {
	tests := []struct {
		name       string
		channelSet []string
		objSet     []string
		want       bool
	}{
		{"identical sets match", []string{"bron", "zaaktype"}, []string{"bron", "zaaktype"}, true},
		{"object subset of channel matches", []string{"bron", "zaaktype"}, []string{"bron"}, true},
		{"channel subset of object matches", []string{"bron"}, []string{"bron", "zaaktype"}, true},
		{"empty object filters always match", []string{"bron", "zaaktype"}, nil, true},
		{"empty channel filters always match", nil, []string{"bron"}, true},
		{"both empty match", nil, nil, true},
		{"disjoint sets do not match", []string{"bron"}, []string{"zaaktype"}, false},
		{"overlapping but neither subset does not match", []string{"bron", "zaaktype"}, []string{"bron", "doel"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Channel{FilterKeys: tt.channelSet}
			if got := c.MatchFilterNames(tt.objSet); got != tt.want {
				t.Errorf("MatchFilterNames(%v) with channel %v = %v, want %v", tt.objSet, tt.channelSet, got, tt.want)
			}
		})
	}
}
