// Package cloud defines the boundary to the doorbell vendor's cloud
// service: device listing, event paging, signed playlist URLs, and raw
// media fetches. The pipeline only depends on the Client interface;
// session establishment and request signing live behind it.
package cloud
