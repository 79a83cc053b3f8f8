package world

import "runtime"

func runtimeWorkers() int { return runtime.NumCPU() }
