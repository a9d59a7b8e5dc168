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
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/starreduce/internal/fits"
	"github.com/pbnjay/memory"
)

// An execution context for the pipeline
type Context struct {
	Log           io.Writer
	MemoryMB      int    // memory.TotalMemory()/1024/1024
	WorkMemoryMB  int    // MemoryMB*7/10
	MaxThreads    int    // runtime.GOMAXPROCS(0)
	CPUBrand      string // from cpuid
	PhysicalCores int    // from cpuid
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:           log,
		MemoryMB:      memoryMB,
		WorkMemoryMB:  memoryMB * 7 / 10,
		MaxThreads:    runtime.GOMAXPROCS(0),
		CPUBrand:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
	}
}

// Float buffers held during one reduction: original, smoothed, composite, plus luminance and weights
const buffersPerReduction = 3

// Estimated working memory for reducing the given image, in MiB
func WorkingSetMB(f *fits.Image) int {
	plane := int64(f.Width()) * int64(f.Height()) * 4
	bytes := plane*int64(f.Channels())*buffersPerReduction + 2*plane
	return int((bytes + 1024*1024 - 1) / 1024 / 1024)
}

// Logs the machine profile
func (c *Context) LogMachine() {
	fmt.Fprintf(c.Log, "CPU %s with %d physical cores and %d threads. Physical memory is %d MiB, working memory %d MiB.\n",
		c.CPUBrand, c.PhysicalCores, c.MaxThreads, c.MemoryMB, c.WorkMemoryMB)
}

// Warns if the working set of the image exceeds the working memory. Returns true if it fits
func (c *Context) CheckMemory(f *fits.Image) bool {
	need := WorkingSetMB(f)
	if c.WorkMemoryMB > 0 && need > c.WorkMemoryMB {
		fmt.Fprintf(c.Log, "%d: Warning: reduction needs about %d MiB, exceeding %d MiB of working memory\n", f.ID, need, c.WorkMemoryMB)
		return false
	}
	return true
}
