// Package vm provides high-level VM lifecycle management.
// It composes the hypervisor command builder, process supervisor and stop
// controller with a durable machine registry.
package vm
