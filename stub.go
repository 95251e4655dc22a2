package main

import (
	"bootcore/kernel"
	"bootcore/kernel/kfmt"
	"bootcore/kernel/kmain"
	"bootcore/kernel/mm/vmm"
)

var (
	multibootInfoPtr uintptr
	kernelEnd        uintptr
	bootEnv          kmain.Environment

	errKmainReturned = &kernel.Error{Module: "main", Message: "Kmain returned"}
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
// The rt0 code fills them in before jumping here.
func main() {
	if bootEnv.Mapper == nil {
		bootEnv.Mapper = vmm.RecursiveMapper{}
	}

	kmain.Kmain(multibootInfoPtr, kernelEnd, &bootEnv)

	// Once the boot sequence completes the scheduler takes over; reaching
	// this point is an error.
	kfmt.Panic(errKmainReturned)
}
