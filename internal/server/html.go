package server

// indexHTML is the phone/laptop control page. It polls /status and drives
// the session through the JSON endpoints.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Audio Bridge</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@picocss/pico@2/css/pico.min.css">
    <style>
        .hidden { display: none; }
        .timer { font-size: 2rem; font-variant-numeric: tabular-nums; }
        .notice { color: var(--pico-del-color); }
        nav button.active { text-decoration: underline; }
    </style>
</head>
<body>
<main class="container">
    <h1>Audio Bridge</h1>
    <p>Record on phone, play on laptop</p>

    <nav>
        <ul>
            <li><button id="tab-phone" class="outline" onclick="post('/view/phone')">Phone</button></li>
            <li><button id="tab-laptop" class="outline" onclick="post('/view/laptop')">Laptop</button></li>
        </ul>
    </nav>

    <p id="notice" class="notice hidden"></p>

    <article id="phone">
        <header>Recording from Phone</header>
        <p id="message">Ready to record</p>
        <p class="timer" id="duration">00:00</p>
        <button id="btn-record" onclick="post('/record/start')">Record</button>
        <button id="btn-stop" class="hidden" onclick="post('/record/stop')">Stop</button>
        <button id="btn-phone-play" class="secondary hidden" onclick="togglePlay()">Play</button>
        <button id="btn-transfer" class="contrast hidden" onclick="post('/transfer')">Transfer</button>
        <button id="btn-reset" class="outline hidden" onclick="post('/record/reset')">Reset</button>
        <div id="transfer" class="hidden">
            <p id="transfer-label">Transferring to laptop...</p>
            <progress id="transfer-progress" value="0" max="100"></progress>
        </div>
    </article>

    <article id="laptop" class="hidden">
        <header>Desktop Receiver</header>
        <div id="waiting">
            <h3>Waiting for audio...</h3>
            <p>Record on the phone and press Transfer.</p>
        </div>
        <div id="received" class="hidden">
            <p>Recording from Phone <span id="clip-length"></span></p>
            <progress id="playback-progress" value="0" max="100"></progress>
            <p><span id="playback-time">00:00</span> / <span id="playback-total">00:00</span></p>
            <button id="btn-laptop-play" onclick="togglePlay()">Play</button>
            <a id="btn-download" role="button" class="secondary" href="/download">Download recording</a>
            <button class="outline" onclick="post('/save').then(loadRecordings)">Save on laptop</button>
            <h4>Saved recordings</h4>
            <ul id="recordings"></ul>
        </div>
    </article>
</main>
<script>
let state = null;

function fmt(s) {
    const m = Math.floor(s / 60), r = s % 60;
    return String(m).padStart(2, '0') + ':' + String(r).padStart(2, '0');
}

function show(id, on) {
    document.getElementById(id).classList.toggle('hidden', !on);
}

async function post(path) {
    const res = await fetch(path, { method: 'POST' });
    const body = await res.json();
    if (!body.success) {
        const n = document.getElementById('notice');
        n.textContent = body.error;
        show('notice', true);
    }
    await refresh();
    return body;
}

function togglePlay() {
    post(state && state.playback_state === 'playing' ? '/playback/pause' : '/playback/play');
}

async function loadRecordings() {
    const res = await fetch('/recordings');
    const body = await res.json();
    const list = document.getElementById('recordings');
    list.innerHTML = '';
    (body.recordings || []).forEach(r => {
        const li = document.createElement('li');
        li.innerHTML = '<a href="' + r.download_url + '">' + r.name + '</a> (' + r.size_human + ')';
        list.appendChild(li);
    });
}

function render(s) {
    state = s;
    const laptop = s.active_view === 'laptop';
    show('phone', !laptop);
    show('laptop', laptop);
    document.getElementById('tab-phone').classList.toggle('active', !laptop);
    document.getElementById('tab-laptop').classList.toggle('active', laptop);

    const n = document.getElementById('notice');
    n.textContent = s.last_error || '';
    show('notice', !!s.last_error);

    const recording = s.recording_state === 'recording';
    const recorded = s.recording_state === 'recorded';
    document.getElementById('message').textContent = s.status_message;
    document.getElementById('duration').textContent = fmt(s.recording_duration_seconds);
    show('btn-record', !recording);
    document.getElementById('btn-record').disabled = s.requesting_permission;
    document.getElementById('btn-record').textContent = recorded ? 'Record again' : 'Record';
    show('btn-stop', recording);
    show('btn-phone-play', recorded);
    show('btn-transfer', recorded && s.transfer_state === 'not-started');
    show('btn-reset', recorded || recording);

    show('transfer', s.transfer_state !== 'not-started');
    document.getElementById('transfer-label').textContent =
        s.transfer_state === 'transferring' ? 'Transferring to laptop...' : 'Transfer complete';
    document.getElementById('transfer-progress').value = s.transfer_progress_percent;

    const received = s.transfer_state === 'completed' && !!s.clip_url;
    show('waiting', !received);
    show('received', received);
    const playing = s.playback_state === 'playing';
    const label = playing ? 'Pause' : 'Play';
    document.getElementById('btn-phone-play').textContent = label;
    document.getElementById('btn-laptop-play').textContent = label;
    document.getElementById('playback-time').textContent = fmt(s.playback_progress_seconds);
    document.getElementById('playback-total').textContent = fmt(s.recording_duration_seconds);
    document.getElementById('playback-progress').value = s.recording_duration_seconds > 0
        ? 100 * s.playback_progress_seconds / s.recording_duration_seconds : 0;
    document.getElementById('btn-download').href = '/download?format=' + s.download_format;
}

async function refresh() {
    try {
        const res = await fetch('/status');
        render(await res.json());
    } catch (e) {
        console.error(e);
    }
}

refresh();
loadRecordings();
setInterval(refresh, 250);
</script>
</body>
</html>`
