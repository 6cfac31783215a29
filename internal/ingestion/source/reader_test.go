package source

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

const foundationDoc = `{
  "Meta": {"release": "2025-04-24", "notes": [1, 2, {"x": [3]}]},
  "FoundationFoods": [
    {
      "fdcId": 321358,
      "description": "Hummus, commercial",
      "foodClass": "FinalFood",
      "dataType": "Foundation",
      "ndbNumber": 16158,
      "publicationDate": "4/1/2019",
      "foodCategory": {"description": "Legumes and Legume Products"},
      "foodNutrients": [
        {
          "id": 2219707,
          "type": "FoodNutrient",
          "nutrient": {"id": 1003, "number": "203", "name": "Protein", "rank": 600, "unitName": "g"},
          "foodNutrientDerivation": {"code": "A", "description": "Analytical"},
          "amount": 7.35,
          "dataPoints": 8,
          "min": "6.9",
          "max": 7.9,
          "median": null
        }
      ]
    },
    {"fdcId": "321359", "description": "Tomato", "foodCategory": {"id": 11, "code": "1100", "description": "Vegetables"}}
  ],
  "Trailer": "ignored"
}`

func readAll(t *testing.T, r *Reader) []RawFood {
	t.Helper()
	var out []RawFood
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestReaderStreamsSelectedArray(t *testing.T) {
	r, err := NewReader(strings.NewReader(foundationDoc), DefaultSelector)
	require.NoError(t, err)

	recs := readAll(t, r)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, r.Count())

	first := recs[0]
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, int64(321358), first.FdcID.Value)
	assert.Equal(t, "16158", first.NdbNumber.Value)
	require.Len(t, first.FoodNutrients, 1)
	fn := first.FoodNutrients[0]
	assert.Equal(t, int64(1003), fn.Nutrient.ID.Value)
	assert.Equal(t, "203", fn.Nutrient.Number.Value)
	assert.Equal(t, 7.35, fn.Amount.Value)
	assert.Equal(t, 6.9, fn.Min.Value)
	assert.True(t, fn.Max.Set)
	assert.False(t, fn.Median.Set)
	assert.Nil(t, fn.Median.Ptr())

	second := recs[1]
	assert.Equal(t, 2, second.Index)
	assert.Equal(t, int64(321359), second.FdcID.Value)
	assert.False(t, second.NdbNumber.Set)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderNestedSelector(t *testing.T) {
	doc := `{"data": {"skip": [1,2,3], "foods": [{"fdcId": 1}]}}`
	r, err := NewReader(strings.NewReader(doc), "data.foods")
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 1)
}

func TestReaderTopLevelArray(t *testing.T) {
	r, err := NewReader(strings.NewReader(`[{"fdcId": 1}, {"fdcId": 2}]`), "")
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 2)
}

func TestReaderEmptyArray(t *testing.T) {
	r, err := NewReader(strings.NewReader(`{"FoundationFoods": []}`), DefaultSelector)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, r))
}

func TestReaderMalformedShapes(t *testing.T) {
	cases := map[string]struct {
		doc      string
		selector string
	}{
		"missing selector":   {`{"SRLegacyFoods": []}`, DefaultSelector},
		"selector not array": {`{"FoundationFoods": {"a": 1}}`, DefaultSelector},
		"root not object":    {`[1, 2]`, DefaultSelector},
		"not json":           {`<html>`, DefaultSelector},
		"empty document":     {``, DefaultSelector},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tc.doc), tc.selector)
			require.Error(t, err)
			assert.Equal(t, importerr.MalformedDocument, importerr.CodeOf(err))
		})
	}
}

func TestReaderMalformedElementReportsRecord(t *testing.T) {
	r, err := NewReader(strings.NewReader(`{"FoundationFoods": [{"fdcId": 1}, 42]}`), DefaultSelector)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)

	var ie *importerr.Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, importerr.MalformedDocument, ie.Code)
	assert.Equal(t, 2, ie.Record)
}

func TestReaderWrongTypedFieldIsRecordLocal(t *testing.T) {
	doc := `{"FoundationFoods": [
	  {"fdcId": 1},
	  {"fdcId": 2, "foodNutrients": [{"nutrient": {"id": 1, "unitName": 5}}]},
	  {"fdcId": 3, "foodNutrients": ["bad"]},
	  {"fdcId": 4}
	]}`
	r, err := NewReader(strings.NewReader(doc), DefaultSelector)
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.FdcID.Value)

	for _, want := range []int{2, 3} {
		rec, err = r.Next()
		require.Error(t, err)
		var ie *importerr.Error
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, importerr.RecordShapeDrift, ie.Code)
		assert.Equal(t, want, ie.Record)
		assert.Equal(t, want, rec.Index)
	}

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Index)
	assert.Equal(t, int64(4), rec.FdcID.Value)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderStreamFailureIsSourceUnavailable(t *testing.T) {
	dropped := errors.New("connection reset by peer")
	body := io.MultiReader(
		strings.NewReader(`{"FoundationFoods": [{"fdcId": 1}, {"fdcId": 2, "descr`),
		iotest.ErrReader(dropped),
	)
	r, err := NewReader(body, DefaultSelector)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
	assert.ErrorIs(t, err, dropped)

	_, err = NewReader(io.MultiReader(strings.NewReader(`{"Foundation`), iotest.ErrReader(dropped)), DefaultSelector)
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
}

func TestReaderTruncatedDocumentIsMalformed(t *testing.T) {
	r, err := NewReader(strings.NewReader(`{"FoundationFoods": [{"fdcId": 1}, {"fdcId": 2, "descr`), DefaultSelector)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, importerr.MalformedDocument, importerr.CodeOf(err))
}

func TestFlexScalars(t *testing.T) {
	var f FlexFloat
	require.NoError(t, f.UnmarshalJSON([]byte(`"n/a"`)))
	assert.False(t, f.Set)
	assert.True(t, f.Invalid)

	require.NoError(t, f.UnmarshalJSON([]byte(`""`)))
	assert.False(t, f.Set)
	assert.False(t, f.Invalid)

	var n FlexInt
	require.NoError(t, n.UnmarshalJSON([]byte(`600.0`)))
	assert.Equal(t, int64(600), n.Value)
	require.NoError(t, n.UnmarshalJSON([]byte(`1.5`)))
	assert.True(t, n.Invalid)

	var s FlexString
	require.NoError(t, s.UnmarshalJSON([]byte(`9003`)))
	assert.Equal(t, "9003", s.Value)
}

func TestOpenLocalFileMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.json"), Options{Selector: DefaultSelector})
	require.Error(t, err)
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
}

func TestOpenEmptyLocation(t *testing.T) {
	_, err := Open(context.Background(), "  ", Options{})
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/data.json", Options{})
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
}

func TestOpenGzipFile(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(foundationDoc))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	p := filepath.Join(t.TempDir(), "foundation.json.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))

	r, err := Open(context.Background(), p, Options{Selector: DefaultSelector})
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 2)
}

func writeZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestOpenZipFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "FoodData_Central_foundation_food_json.zip")
	require.NoError(t, os.WriteFile(p, writeZip(t, map[string]string{"foundation.json": foundationDoc}), 0o600))

	r, err := Open(context.Background(), p, Options{Selector: DefaultSelector})
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 2)
	require.NoError(t, r.Close())
}

func TestOpenZipWithoutJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.zip")
	require.NoError(t, os.WriteFile(p, writeZip(t, map[string]string{"readme.txt": "hi"}), 0o600))

	_, err := Open(context.Background(), p, Options{Selector: DefaultSelector})
	assert.Equal(t, importerr.MalformedDocument, importerr.CodeOf(err))
}

func TestOpenRemoteZipIsSpooled(t *testing.T) {
	payload := writeZip(t, map[string]string{"foundation.json": foundationDoc})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	r, err := Open(context.Background(), srv.URL+"/foundation.zip", Options{Selector: DefaultSelector, TempDir: tmp})
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 2)
	require.NoError(t, r.Close())

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left, "spooled archive should be removed on close")
}

func TestOpenHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/foundation.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, foundationDoc)
	}))
	defer srv.Close()

	r, err := Open(context.Background(), srv.URL+"/foundation.json", Options{Selector: DefaultSelector})
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, readAll(t, r), 2)

	_, err = Open(context.Background(), srv.URL+"/missing.json", Options{Selector: DefaultSelector})
	assert.Equal(t, importerr.SourceUnavailable, importerr.CodeOf(err))
}

func TestOpenCustomOpener(t *testing.T) {
	var gotBucket, gotKey string
	opts := Options{
		Selector: DefaultSelector,
		Openers: map[string]Opener{
			"s3": func(_ context.Context, u *url.URL) (io.ReadCloser, error) {
				gotBucket, gotKey = u.Host, u.Path
				return io.NopCloser(strings.NewReader(foundationDoc)), nil
			},
		},
	}
	r, err := Open(context.Background(), "s3://fdc-data/2025/foundation.json", opts)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "fdc-data", gotBucket)
	assert.Equal(t, "/2025/foundation.json", gotKey)
	assert.Len(t, readAll(t, r), 2)
}
