package nodemanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mplsgrant/mutiny-node/lnnode"
)

func TestCreateInvoiceDelegatesToFirstNodeWithSiblingHints(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	first, err := mgr.NewNode(context.Background())
	require.NoError(t, err)
	second, err := mgr.NewNode(context.Background())
	require.NoError(t, err)

	firstNode, _ := mgr.findNode(first.Pubkey)
	secondNode, _ := mgr.findNode(second.Pubkey)
	firstFake := firstNode.(*lnnode.FakeNode)
	secondFake := secondNode.(*lnnode.FakeNode)

	firstFake.NextInvoice = "lnbc-first"
	secondFake.SetRouteHints([]lnnode.PhantomHint{{ShortChanID: 42}})

	bolt11, err := mgr.CreateInvoice(context.Background(), 1000, "coffee", nil)
	require.NoError(t, err)
	require.Equal(t, "lnbc-first", bolt11)
}

func TestCreateInvoiceFailsWithNoRunningNodes(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	_, err := mgr.CreateInvoice(context.Background(), 1000, "", nil)
	require.Error(t, err)
}

func TestLnurlPayRejectsWrongTag(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Start(context.Background()))

	id, err := mgr.NewNode(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag":"withdrawRequest"}`))
	}))
	defer srv.Close()

	_, err = mgr.LnurlPay(context.Background(), id.Pubkey, srv.URL, 1000)
	require.Error(t, err)
}

func TestCreateLnurlAuthProfileThenAuth(t *testing.T) {
	mgr, _ := newTestManager(t)

	index, err := mgr.CreateLnurlAuthProfile()
	require.NoError(t, err)
	require.Equal(t, uint32(0), index)

	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.URL.Query().Get("sig")
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	authURL := srv.URL + "/auth?tag=login&k1=0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	require.NoError(t, mgr.LnurlAuth(context.Background(), index, authURL))
	require.NotEmpty(t, gotSig)

	profiles := mgr.GetLnurlAuthProfiles()
	require.Len(t, profiles, 1)
}
