package exports

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"tappay/native/rates"
	"tappay/native/settlement"
)

func sampleRecords() []settlement.Record {
	return []settlement.Record{
		{
			ID:           "rec-1",
			Kind:         settlement.KindVendor,
			Payer:        common.HexToAddress("0xa1"),
			Payee:        common.HexToAddress("0xc0ffe"),
			PayeeHandle:  "coffee-cart",
			Gross:        big.NewInt(1000),
			Fee:          big.NewInt(25),
			Net:          big.NewInt(975),
			Requested:    big.NewInt(1000),
			Denomination: settlement.DenominationNative,
			PayerSeq:     1,
			Timestamp:    time.Unix(1700, 0).UTC(),
		},
		{
			ID:           "rec-2",
			Kind:         settlement.KindP2P,
			Payer:        common.HexToAddress("0xa1"),
			Payee:        common.HexToAddress("0xf2"),
			Gross:        big.NewInt(300),
			Net:          big.NewInt(300),
			Requested:    big.NewInt(150),
			Denomination: settlement.DenominationReference,
			RateUsed:     &rates.Rate{Numerator: big.NewInt(2), Denominator: big.NewInt(1), Version: 3},
			PayerSeq:     2,
			Timestamp:    time.Unix(1800, 0).UTC(),
		},
	}
}

func TestSettlementsCSV(t *testing.T) {
	data, sum, err := SettlementsCSV(sampleRecords())
	require.NoError(t, err)
	require.Len(t, sum, 64)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "id,payer_seq,kind,payer,payee"))
	require.Contains(t, lines[1], "coffee-cart,1000,25,975,1000,native")
	require.Contains(t, lines[2], ",0,300,150,reference,2/1,3,")
}

func TestSettlementsJSONL(t *testing.T) {
	data, sum, err := SettlementsJSONL(sampleRecords())
	require.NoError(t, err)
	require.NotEmpty(t, sum)
	output := string(data)
	require.Contains(t, output, `"kind":"vendor"`)
	require.Contains(t, output, `"payee_handle":"coffee-cart"`)
	require.Contains(t, output, `"rate":"2/1"`)
	require.Equal(t, 2, strings.Count(output, "\n"))

	_, again, err := SettlementsJSONL(sampleRecords())
	require.NoError(t, err)
	require.Equal(t, sum, again)
}

func TestSettlementsParquet(t *testing.T) {
	data, sum, err := SettlementsParquet(sampleRecords())
	require.NoError(t, err)
	require.Len(t, sum, 64)
	require.Equal(t, "PAR1", string(data[:4]))
	require.Equal(t, "PAR1", string(data[len(data)-4:]))

	path := filepath.Join(t.TempDir(), "settlements.parquet")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]parquetRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "rec-1", rows[0].ID)
	require.Equal(t, "coffee-cart", rows[0].PayeeHandle)
	require.Equal(t, "975", rows[0].Net)
	require.Equal(t, "reference", rows[1].Denomination)
	require.Equal(t, "2/1", rows[1].Rate)
	require.Equal(t, int64(3), rows[1].RateVersion)
}
