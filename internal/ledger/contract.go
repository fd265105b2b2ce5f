package ledger

import (
	"strconv"

	"github.com/roach88/titlechain/internal/apperr"
	"github.com/roach88/titlechain/internal/canon"
	"github.com/roach88/titlechain/internal/model"
)

// Contract function names, as carried in proposals and receipts.
const (
	FnCreateAsset   = "CreateAsset"
	FnReadAsset     = "ReadAsset"
	FnUpdateAsset   = "UpdateAsset"
	FnDeleteAsset   = "DeleteAsset"
	FnAssetExists   = "AssetExists"
	FnTransferAsset = "TransferAsset"
	FnGetAllAssets  = "GetAllAssets"
)

// readOnly lists functions that never produce writes.
var readOnly = map[string]bool{
	FnReadAsset:    true,
	FnAssetExists:  true,
	FnGetAllAssets: true,
}

// Contract is the asset chaincode. It is stateless; all state flows through
// the Stub.
type Contract struct{}

// Invoke dispatches fn with positional string args, the way chaincode
// arguments arrive on the wire.
func (c Contract) Invoke(stub *Stub, fn string, args []string) (string, error) {
	want := map[string]int{
		FnCreateAsset:   6,
		FnUpdateAsset:   6,
		FnReadAsset:     1,
		FnDeleteAsset:   1,
		FnAssetExists:   1,
		FnTransferAsset: 2,
		FnGetAllAssets:  0,
	}
	n, ok := want[fn]
	if !ok {
		return "", apperr.New(apperr.KindInvalid, "ledger.Invoke", fn, "unknown function")
	}
	if len(args) != n {
		return "", apperr.New(apperr.KindInvalid, "ledger.Invoke", fn, "expected %d args, got %d", n, len(args))
	}

	switch fn {
	case FnCreateAsset:
		return "", c.CreateAsset(stub, factsFromArgs(args))
	case FnUpdateAsset:
		return "", c.UpdateAsset(stub, factsFromArgs(args))
	case FnReadAsset:
		return c.ReadAsset(stub, args[0])
	case FnDeleteAsset:
		return "", c.DeleteAsset(stub, args[0])
	case FnAssetExists:
		ok, err := c.AssetExists(stub, args[0])
		return strconv.FormatBool(ok), err
	case FnTransferAsset:
		return c.TransferAsset(stub, args[0], args[1])
	default:
		return c.GetAllAssets(stub)
	}
}

// CreateAsset stores a new record. Fails with AlreadyExists when the key is
// taken.
func (c Contract) CreateAsset(stub *Stub, f model.Facts) error {
	exists, err := c.AssetExists(stub, f.UUID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.New(apperr.KindAlreadyExists, "ledger.CreateAsset", f.UUID, "the asset already exists")
	}
	return putFacts(stub, f)
}

// ReadAsset returns the stored bytes for uuid.
func (c Contract) ReadAsset(stub *Stub, uuid string) (string, error) {
	v, err := stub.GetState(uuid)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", apperr.New(apperr.KindNotFound, "ledger.ReadAsset", uuid, "the asset does not exist")
	}
	return string(v), nil
}

// UpdateAsset overwrites an existing record with the full fact set. Nothing
// from the previous value is merged.
func (c Contract) UpdateAsset(stub *Stub, f model.Facts) error {
	exists, err := c.AssetExists(stub, f.UUID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.KindNotFound, "ledger.UpdateAsset", f.UUID, "the asset does not exist")
	}
	return putFacts(stub, f)
}

// DeleteAsset removes a record.
func (c Contract) DeleteAsset(stub *Stub, uuid string) error {
	exists, err := c.AssetExists(stub, uuid)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.New(apperr.KindNotFound, "ledger.DeleteAsset", uuid, "the asset does not exist")
	}
	return stub.DelState(uuid)
}

// AssetExists reports whether a non-empty value is stored under uuid.
func (c Contract) AssetExists(stub *Stub, uuid string) (bool, error) {
	v, err := stub.GetState(uuid)
	if err != nil {
		return false, err
	}
	return len(v) > 0, nil
}

// TransferAsset sets ownerUUID and returns the previous owner. Fields other
// than ownerUUID are carried over as stored, including ones this contract
// does not know about.
func (c Contract) TransferAsset(stub *Stub, uuid, newOwner string) (string, error) {
	raw, err := c.ReadAsset(stub, uuid)
	if err != nil {
		return "", err
	}
	obj, err := canon.ParseObject([]byte(raw))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalid, "ledger.TransferAsset", uuid, err)
	}
	previous := obj.Str("ownerUUID")
	obj["ownerUUID"] = canon.String(newOwner)

	data, err := canon.Marshal(obj)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalid, "ledger.TransferAsset", uuid, err)
	}
	if err := stub.PutState(uuid, data); err != nil {
		return "", err
	}
	return previous, nil
}

// GetAllAssets returns every record as a canonical JSON array. A value that
// does not parse is included as its raw string.
func (c Contract) GetAllAssets(stub *Stub) (string, error) {
	all := canon.Array{}
	for p, err := range stub.StateRange() {
		if err != nil {
			return "", err
		}
		all = append(all, decodeEntry(p.Value).value())
	}
	data, err := canon.Marshal(all)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeFacts is the canonical ledger value for a fact set.
func EncodeFacts(f model.Facts) ([]byte, error) {
	return canon.Marshal(canon.Strings(map[string]string{
		"uuid":         f.UUID,
		"type":         f.Type,
		"ownerUUID":    f.OwnerUUID,
		"parcelNumber": f.ParcelNumber,
		"plotNumber":   f.PlotNumber,
		"titleNumber":  f.TitleNumber,
	}))
}

// DecodeFacts reads a stored ledger value back into a fact set.
func DecodeFacts(data []byte) (model.Facts, error) {
	obj, err := canon.ParseObject(data)
	if err != nil {
		return model.Facts{}, err
	}
	return factsFromObject(obj), nil
}

func factsFromObject(obj canon.Object) model.Facts {
	return model.Facts{
		UUID:         obj.Str("uuid"),
		Type:         obj.Str("type"),
		OwnerUUID:    obj.Str("ownerUUID"),
		ParcelNumber: obj.Str("parcelNumber"),
		PlotNumber:   obj.Str("plotNumber"),
		TitleNumber:  obj.Str("titleNumber"),
	}
}

func factsArgs(f model.Facts) []string {
	return []string{f.UUID, f.Type, f.OwnerUUID, f.ParcelNumber, f.PlotNumber, f.TitleNumber}
}

func factsFromArgs(args []string) model.Facts {
	return model.Facts{
		UUID:         args[0],
		Type:         args[1],
		OwnerUUID:    args[2],
		ParcelNumber: args[3],
		PlotNumber:   args[4],
		TitleNumber:  args[5],
	}
}

func putFacts(stub *Stub, f model.Facts) error {
	if f.UUID == "" {
		return apperr.New(apperr.KindInvalid, "ledger.putFacts", "", "uuid is required")
	}
	data, err := EncodeFacts(f)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "ledger.putFacts", f.UUID, err)
	}
	return stub.PutState(f.UUID, data)
}

// Entry is one scanned ledger value. Object is nil when the stored bytes are
// not a canonical JSON object; Raw then holds them verbatim.
type Entry struct {
	Object canon.Object
	Raw    string
}

// Corrupt reports whether the value failed to decode.
func (e Entry) Corrupt() bool {
	return e.Object == nil
}

// Facts interprets a decoded entry as an asset record.
func (e Entry) Facts() (model.Facts, bool) {
	if e.Corrupt() {
		return model.Facts{}, false
	}
	return factsFromObject(e.Object), true
}

func decodeEntry(data []byte) Entry {
	obj, err := canon.ParseObject(data)
	if err != nil {
		return Entry{Raw: string(data)}
	}
	// Parse accepts null, which has no canonical form.
	if _, err := canon.Marshal(obj); err != nil {
		return Entry{Raw: string(data)}
	}
	return Entry{Object: obj}
}

func (e Entry) value() canon.Value {
	if e.Corrupt() {
		return canon.String(e.Raw)
	}
	return e.Object
}
