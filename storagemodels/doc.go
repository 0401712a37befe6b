/*
Package storagemodels defines the value types shared by the drivers and the
repository facade.

Filter:
A conjunction of conditions on stored element names:

	f := storagemodels.Eq("name", "report.pdf").
	    And("size", storagemodels.OpGt, 1024)

FindOptions:
Ordering and paging of a Find:

	opts := storagemodels.FindOptions{
	    Sort:  []storagemodels.SortField{{Field: "_id"}},
	    Limit: 50,
	}

StreamResult:
Results from streaming reads with metadata:

	type StreamResult[T any] struct {
	    Item  T          // The typed entity
	    Error error      // Item-specific error, if any
	    Meta  StreamMeta // Metadata about this item
	}

StreamOptions:
Configuration for streaming behavior:

	opts := []StreamOption{
	    WithBufferSize(100),
	    WithPageSize(25),
	    WithProgressHandler(progressFunc),
	}
*/
package storagemodels
