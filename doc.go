/*
Package pcocc provides primitives for provisioning private virtual clusters
on HPC compute nodes.

A cluster is instantiated from a template. Templates live in a system tier
and a per-user tier and inherit from each other; the resolver flattens an
inheritance chain into one effective template.

A Network is a named fabric definition: a NAT'd or private ethernet
network, an SR-IOV InfiniBand partition, a passthrough PCI device set, a
host InfiniBand device or a pre-existing bridge. Each network type has a
driver that reserves per-VM resources from node-local pools and publishes
whatever other nodes need to know through the kv store.

An Allocation groups the VMs of one instantiation together with every
reservation made for them. It is the unit of rollback: a failed
instantiation or a teardown releases exactly what the allocation holds.

The subnet manager daemon watches published partition keys and rewrites the
opensm partition configuration so InfiniBand isolation follows the kv store
contents.
*/
package pcocc
