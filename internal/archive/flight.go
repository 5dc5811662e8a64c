package archive

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/varcode/internal/logger"
)

// DescriptorPath identifies run batches on the Flight server.
const DescriptorPath = "varcode/runs"

// FlightUploader pushes run batches to an Arrow Flight endpoint via
// DoPut.
type FlightUploader struct {
	client flight.Client
	addr   string
}

// NewFlightUploader dials a Flight server at addr (host:port).
func NewFlightUploader(addr string) (*FlightUploader, error) {
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("flight dial %s: %w", addr, err)
	}
	return &FlightUploader{client: client, addr: addr}, nil
}

// Upload sends the records as one batch.
func (u *FlightUploader) Upload(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	schema := Schema()
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for _, r := range recs {
		appendRecord(b, r)
	}
	rec := b.NewRecord()
	defer rec.Release()

	stream, err := u.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight DoPut %s: %w", u.addr, err)
	}
	wr := flight.NewRecordWriter(stream, ipc.WithSchema(schema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{DescriptorPath},
	})
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("flight write %s: %w", u.addr, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("flight close %s: %w", u.addr, err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight close-send %s: %w", u.addr, err)
	}
	logger.Log.Info("runs uploaded", "addr", u.addr, "rows", len(recs))
	return nil
}

// Close tears down the underlying gRPC connection.
func (u *FlightUploader) Close() error {
	return u.client.Close()
}
