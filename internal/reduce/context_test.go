// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package reduce

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mlnoga/starreduce/internal/fits"
)

func TestWorkingSetMB(t *testing.T) {
	img := fits.NewImageFromNaxisn([]int32{1024, 1024, 3}, nil)
	// 4 MiB per plane, three color buffers of three planes plus two single planes
	if got := WorkingSetMB(img); got != 44 {
		t.Errorf("got %d MiB; want 44", got)
	}
}

func TestCheckMemory(t *testing.T) {
	var log bytes.Buffer
	c := &Context{Log: &log, WorkMemoryMB: 10}
	img := fits.NewImageFromNaxisn([]int32{1024, 1024, 3}, nil)
	if c.CheckMemory(img) {
		t.Errorf("44 MiB fit into 10 MiB")
	}
	if !strings.Contains(log.String(), "Warning") {
		t.Errorf("no warning logged: %q", log.String())
	}
	c.WorkMemoryMB = 100
	if !c.CheckMemory(img) {
		t.Errorf("44 MiB did not fit into 100 MiB")
	}
}
