package semantic

import (
	"context"
	"errors"
	"math"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	countResp  *pb.CountResponse
	countErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	createReq  *pb.CreateCollection
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return m.createResp, m.createErr
}

func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "test")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "test"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil {
		t.Fatal("existing collection should not be recreated")
	}
}

func TestEnsureCollection_CreatesEuclid(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 128 {
		t.Fatalf("wrong dims: %d", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Euclid {
		t.Fatalf("wrong distance metric: %v", params.GetDistance())
	}
}

func TestEnsureCollection_DefaultDims(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cols.createReq.GetVectorsConfig().GetParams().GetSize(); got != DefaultDims {
		t.Fatalf("expected default dims %d, got %d", DefaultDims, got)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestClear_Success(t *testing.T) {
	cols := &mockCollections{deleteResp: &pb.CollectionOperationResponse{Result: true}}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.Clear(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClear_Error(t *testing.T) {
	cols := &mockCollections{deleteErr: errors.New("fail")}
	vs := NewWithClients(&mockPoints{}, cols, "test")
	if err := vs.Clear(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("empty upsert should not hit the store")
	}
}

func TestUpsert_PayloadFields(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	records := []ChunkRecord{
		{
			ID:                 "3f2a",
			Vector:             []float32{1, 0, 0, 0},
			Text:               "Remove the lower access panel.",
			PartsTownNumber:    "PT100",
			ManufacturerNumber: "MF-9",
			PDFURL:             "https://cdn.example.com/m.pdf",
			PageNumber:         4,
			ChunkIndex:         1,
		},
	}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pt := pts.upsertReq.GetPoints()[0]
	if pt.GetId().GetUuid() != "3f2a" {
		t.Fatalf("wrong point id: %s", pt.GetId().GetUuid())
	}
	payload := pt.GetPayload()
	if payload["parts_town_number"].GetStringValue() != "PT100" {
		t.Errorf("wrong part number payload: %v", payload)
	}
	if payload["page_number"].GetIntegerValue() != 4 {
		t.Errorf("wrong page number payload: %v", payload)
	}
	if payload["chunk_index"].GetIntegerValue() != 1 {
		t.Errorf("wrong chunk index payload: %v", payload)
	}
	if !pts.upsertReq.GetWait() {
		t.Error("upsert should wait for durability")
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	records := []ChunkRecord{{ID: "id1", Vector: []float32{1, 0}}}
	if err := vs.Upsert(context.Background(), records); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_MapsPayloadAndSimilarity(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Score: 1.0,
					Payload: map[string]*pb.Value{
						"text":                {Kind: &pb.Value_StringValue{StringValue: "tighten the hinge"}},
						"parts_town_number":   {Kind: &pb.Value_StringValue{StringValue: "PT100"}},
						"manufacturer_number": {Kind: &pb.Value_StringValue{StringValue: "MF-9"}},
						"pdf_url":             {Kind: &pb.Value_StringValue{StringValue: "https://cdn.example.com/m.pdf"}},
						"page_number":         {Kind: &pb.Value_IntegerValue{IntegerValue: 2}},
						"chunk_index":         {Kind: &pb.Value_IntegerValue{IntegerValue: 0}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	hits, err := vs.Search(context.Background(), []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.ID != "p1" || h.Text != "tighten the hinge" || h.PartsTownNumber != "PT100" {
		t.Fatalf("wrong hit: %+v", h)
	}
	if h.PageNumber != 2 || h.ChunkIndex != 0 {
		t.Fatalf("wrong position fields: %+v", h)
	}
	// distance 1.0 converts to similarity 0.5
	if math.Abs(h.Similarity-0.5) > 1e-9 {
		t.Fatalf("wrong similarity: %f", h.Similarity)
	}
}

func TestSearch_PartFilter(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	if _, err := vs.Search(context.Background(), []float32{1}, 5, []string{"PT100", "PT200"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	should := pts.searchReq.GetFilter().GetShould()
	if len(should) != 2 {
		t.Fatalf("expected one should-clause per part, got %d", len(should))
	}
	if should[0].GetField().GetKey() != "parts_town_number" {
		t.Fatalf("wrong filter key: %s", should[0].GetField().GetKey())
	}
	if should[1].GetField().GetMatch().GetKeyword() != "PT200" {
		t.Fatalf("wrong filter value: %v", should[1].GetField().GetMatch())
	}
}

func TestSearch_NoFilterWhenUnscoped(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "test")

	if _, err := vs.Search(context.Background(), []float32{1}, 5, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetFilter() != nil {
		t.Fatal("unscoped search should carry no filter")
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if _, err := vs.Search(context.Background(), []float32{1}, 5, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestCount(t *testing.T) {
	pts := &mockPoints{countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 42}}}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	n, err := vs.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestCount_Error(t *testing.T) {
	pts := &mockPoints{countErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "test")
	if _, err := vs.Count(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
